package handler

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Provider event types are dotted resource.action pairs, e.g. "order.shipped".
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
			return eventTypePattern.MatchString(fl.Field().String())
		})
	}
}
