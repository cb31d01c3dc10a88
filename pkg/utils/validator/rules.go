package validator

import (
	"strings"
	"unicode/utf8"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// Custom validation tags
const (
	TagSessionID = "sessionid" // at least MinSessionIDLength characters
	TagPDFName   = "pdfname"   // file name ending in .pdf, case-insensitive
	TagNotBlank  = "notblank"  // not empty after trimming whitespace
)

// MinSessionIDLength is the shortest accepted session identifier.
const MinSessionIDLength = 5

func (v *Validator) registerCustomRules() {
	rules := map[string]validator.Func{
		TagSessionID: func(fl validator.FieldLevel) bool {
			return IsSessionID(fl.Field().String())
		},
		TagPDFName: func(fl validator.FieldLevel) bool {
			return strings.HasSuffix(strings.ToLower(fl.Field().String()), ".pdf")
		},
		TagNotBlank: func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		},
	}
	for tag, fn := range rules {
		_ = v.validate.RegisterValidation(tag, fn)
	}

	v.registerMessages(LangEN, map[string]string{
		TagSessionID: "Valid {0} is required",
		TagPDFName:   "File must have .pdf extension",
		TagNotBlank:  "{0} cannot be empty",
	})
	v.registerMessages(LangZH, map[string]string{
		TagSessionID: "{0}无效",
		TagPDFName:   "文件必须是 .pdf 扩展名",
		TagNotBlank:  "{0}不能为空",
	})
}

func (v *Validator) registerMessages(lang string, messages map[string]string) {
	trans := v.trans[lang]
	if trans == nil {
		return
	}
	for tag, message := range messages {
		tag, message := tag, message
		_ = v.validate.RegisterTranslation(tag, trans,
			func(ut ut.Translator) error {
				return ut.Add(tag, message, true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, _ := ut.T(tag, fe.Field())
				return t
			},
		)
	}
}

// IsSessionID reports whether s is long enough to be admitted as a session id.
func IsSessionID(s string) bool {
	return utf8.RuneCountInString(s) >= MinSessionIDLength
}
