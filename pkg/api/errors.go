package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/gesture"
	"github.com/gwillem/dexhand/pkg/motion"
	"github.com/gwillem/dexhand/pkg/robot"
)

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Channel  *int   `json:"channel,omitempty"`
	Frame    *int   `json:"frame,omitempty"`
	Channels []int  `json:"channels,omitempty"`
}

// classify maps an engine error to an HTTP status and error kind, filling
// in the offending channel or frame where the error carries one.
func classify(err error) (int, ErrorBody) {
	body := ErrorBody{Error: err.Error()}

	var (
		oor  *robot.OutOfRangeError
		uc   *robot.UnknownChannelError
		be   *bus.Error
		bce  *bus.BroadcastError
		foe  *motion.FrameOrderingError
		fmte *motion.FormatError
		me   *gesture.MappingError
	)
	switch {
	case errors.As(err, &oor):
		body.Kind, body.Channel = "out_of_range", &oor.Channel
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &uc):
		body.Kind, body.Channel = "unknown_channel", &uc.Channel
		return http.StatusNotFound, body
	case errors.As(err, &me):
		body.Kind, body.Channel = "uncalibrated", &me.Channel
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, bus.ErrModeConflict):
		body.Kind = "mode_conflict"
		return http.StatusConflict, body
	case errors.As(err, &be):
		body.Kind, body.Channel = "bus_"+be.Kind.String(), &be.Channel
		if be.Kind == bus.Timeout {
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	case errors.As(err, &bce):
		body.Kind, body.Channels = "bus_broadcast", bce.Channels()
		return http.StatusBadGateway, body
	case errors.Is(err, motion.ErrInvalidSpeed):
		body.Kind = "invalid_speed"
		return http.StatusBadRequest, body
	case errors.Is(err, motion.ErrInvalidRate):
		body.Kind = "invalid_rate"
		return http.StatusBadRequest, body
	case errors.As(err, &foe):
		body.Kind, body.Frame = "frame_ordering", &foe.Frame
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &fmte):
		body.Kind = "recording_format"
		if fmte.Frame >= 0 {
			body.Frame = &fmte.Frame
		}
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, motion.ErrEmptyRecording):
		body.Kind = "empty_recording"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, motion.ErrWrongMode),
		errors.Is(err, motion.ErrNotRecording),
		errors.Is(err, motion.ErrSessionFinished),
		errors.Is(err, engine.ErrNoPlayback),
		errors.Is(err, engine.ErrNotMirroring),
		errors.Is(err, engine.ErrNotCalibrating):
		body.Kind = "invalid_state"
		return http.StatusConflict, body
	}
	body.Kind = "internal"
	return http.StatusInternalServerError, body
}

func (s *Server) fail(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.WithField("path", c.FullPath()).Warnf("request failed: %v", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: err.Error(), Kind: "bad_request"})
}
