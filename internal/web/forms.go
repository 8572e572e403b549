package web

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/tallyhq/tally/internal/tracker"
	"github.com/tallyhq/tally/internal/validation"
)

type registerForm struct {
	Username string `form:"username" validate:"required,min=3,max=80,username"`
	Password string `form:"password" validate:"required,min=8,max=72"`
}

type loginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

type actionForm struct {
	Name       string `form:"name" validate:"required,max=120"`
	Notes      string `form:"notes" validate:"max=10000"`
	Properties string `form:"properties" validate:"jsonobject"`
}

type logForm struct {
	Delta      int64  `form:"delta,default=1" validate:"min=-1000,max=1000"`
	Notes      string `form:"notes" validate:"max=10000"`
	Properties string `form:"properties" validate:"jsonobject"`
}

type timeframeForm struct {
	Days int `form:"days,default=30" validate:"min=3,max=365"`
}

type changePasswordForm struct {
	OldPassword string `form:"old_password" validate:"required"`
	NewPassword string `form:"new_password" validate:"required,min=8,max=72"`
	Confirm     string `form:"confirm" validate:"required,eqfield=NewPassword"`
}

type deleteAccountForm struct {
	Password string `form:"password" validate:"required"`
}

// bindForm decodes the request into dst and validates it. Field errors are
// returned keyed by form field name.
func bindForm(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindWith(dst, binding.Form); err != nil {
		return map[string]string{"_form": "Some fields could not be read. Check the values and try again."}
	}
	if err := validation.Struct(dst); err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			return verrs.Fields()
		}
		return map[string]string{"_form": err.Error()}
	}
	return nil
}

func (f actionForm) input() tracker.ActionInput {
	props, _ := validation.ParseProperties(f.Properties)
	return tracker.ActionInput{
		Name:       validation.SanitizeString(f.Name, tracker.MaxNameLength),
		Notes:      validation.SanitizeString(f.Notes, validation.MaxStringLength),
		Properties: props,
	}
}

func (f logForm) input() tracker.LogInput {
	props, _ := validation.ParseProperties(f.Properties)
	return tracker.LogInput{
		Delta:      f.Delta,
		Note:       validation.SanitizeString(f.Notes, validation.MaxStringLength),
		Properties: props,
		Source:     "web",
	}
}
