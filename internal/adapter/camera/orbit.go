// Package camera provides a synthetic camera host for headless runs: a
// perspective camera orbiting the volume centre at constant angular speed.
package camera

import (
	"context"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"isaac-client/internal/domain"
)

// Default orbit parameters.
const (
	DefaultRadius = 5.0
	DefaultSpeed  = 0.5 // radians per second
	DefaultFovY   = 45.0
	DefaultNear   = 0.1
	DefaultFar    = 100.0
)

// Config describes an orbit.
type Config struct {
	Radius float32
	Speed  float32 // radians per second, sign picks the direction
	FovY   float32 // degrees
	Near   float32
	Far    float32
	Height float32 // eye elevation above the orbit plane
}

func (c *Config) defaults() {
	if c.Radius <= 0 {
		c.Radius = DefaultRadius
	}
	if c.FovY <= 0 || c.FovY >= 180 {
		c.FovY = DefaultFovY
	}
	if c.Near <= 0 {
		c.Near = DefaultNear
	}
	if c.Far <= c.Near {
		c.Far = DefaultFar
	}
}

// Orbit is a domain.CameraSource whose eye circles the origin in the XZ
// plane while looking at it. It also implements domain.FrameSink so the
// aspect ratio follows the framebuffer.
type Orbit struct {
	cfg   Config
	now   func() time.Time
	start time.Time

	mu     sync.RWMutex
	aspect float32
}

// NewOrbit creates an orbit camera starting at angle zero, i.e. on +Z.
func NewOrbit(cfg Config) *Orbit {
	return newOrbitWithClock(cfg, time.Now)
}

func newOrbitWithClock(cfg Config, now func() time.Time) *Orbit {
	cfg.defaults()
	return &Orbit{cfg: cfg, now: now, start: now(), aspect: 1}
}

// ApplyFrame adopts the frame's aspect ratio.
func (o *Orbit) ApplyFrame(_ context.Context, frame domain.Frame) error {
	if frame.Width > 0 && frame.Height > 0 {
		o.mu.Lock()
		o.aspect = float32(frame.Width) / float32(frame.Height)
		o.mu.Unlock()
	}
	return nil
}

// Angle returns the current orbit angle in radians.
func (o *Orbit) Angle() float32 {
	return o.cfg.Speed * float32(o.now().Sub(o.start).Seconds())
}

// Position returns the eye position.
func (o *Orbit) Position() [3]float32 {
	a := o.Angle()
	return [3]float32{o.cfg.Radius * math32.Sin(a), o.cfg.Height, o.cfg.Radius * math32.Cos(a)}
}

// ModelView returns the row-major view matrix looking from the eye at the
// origin with +Y up.
func (o *Orbit) ModelView() [16]float32 {
	return lookAt(o.Position(), [3]float32{}, [3]float32{0, 1, 0})
}

// Rotation returns the rotation block of ModelView.
func (o *Orbit) Rotation() [9]float32 {
	return domain.Rotation3(o.ModelView())
}

// Projection returns a row-major OpenGL-style perspective matrix.
func (o *Orbit) Projection() [16]float32 {
	o.mu.RLock()
	aspect := o.aspect
	o.mu.RUnlock()
	return perspective(o.cfg.FovY*math32.Pi/180, aspect, o.cfg.Near, o.cfg.Far)
}

func perspective(fovY, aspect, near, far float32) [16]float32 {
	f := 1 / math32.Tan(fovY/2)
	return [16]float32{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (far + near) / (near - far), 2 * far * near / (near - far),
		0, 0, -1, 0,
	}
}

func lookAt(eye, target, up [3]float32) [16]float32 {
	f := normalize(sub(target, eye))
	s := normalize(cross(f, up))
	u := cross(s, f)
	return [16]float32{
		s[0], s[1], s[2], -dot(s, eye),
		u[0], u[1], u[2], -dot(u, eye),
		-f[0], -f[1], -f[2], dot(f, eye),
		0, 0, 0, 1,
	}
}

func sub(a, b [3]float32) [3]float32 { return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b [3]float32) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	l := math32.Sqrt(dot(v, v))
	if l == 0 {
		return v
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}
