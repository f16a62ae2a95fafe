package stream

import "isaac-client/internal/domain"

// SetProjection sends the host's 4x4 row-major projection matrix.
func (c *Client) SetProjection(m [16]float32) error {
	fb := domain.NewFeedback(c.opts.ObserverID)
	fb.Projection = &m
	return c.SendFeedback(fb)
}

// SetModelView sends the host's 4x4 row-major model-view matrix.
func (c *Client) SetModelView(m [16]float32) error {
	fb := domain.NewFeedback(c.opts.ObserverID)
	fb.ModelView = &m
	return c.SendFeedback(fb)
}

// SetRotation sends an absolute 3x3 row-major rotation.
func (c *Client) SetRotation(m [9]float32) error {
	fb := domain.NewFeedback(c.opts.ObserverID)
	fb.RotationAbsolute = &m
	return c.SendFeedback(fb)
}

// SetRotationFromMatrix sends the rotation block of a 4x4 row-major matrix.
func (c *Client) SetRotationFromMatrix(m [16]float32) error {
	return c.SetRotation(domain.Rotation3(m))
}

// SetPosition sends an absolute camera position.
func (c *Client) SetPosition(v [3]float32) error {
	fb := domain.NewFeedback(c.opts.ObserverID)
	fb.PositionAbsolute = &v
	return c.SendFeedback(fb)
}

// SendCamera sends the camera's rotation and position in one feedback
// message. With withMatrices set, projection and model-view are included too.
func (c *Client) SendCamera(cam domain.CameraSource, withMatrices bool) error {
	fb := domain.NewFeedback(c.opts.ObserverID)
	rot, pos := cam.Rotation(), cam.Position()
	fb.RotationAbsolute = &rot
	fb.PositionAbsolute = &pos
	if withMatrices {
		proj, mv := cam.Projection(), cam.ModelView()
		fb.Projection = &proj
		fb.ModelView = &mv
	}
	return c.SendFeedback(fb)
}
