package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionParams struct {
	SessionID string `form:"session_id" validate:"sessionid"`
}

type uploadParams struct {
	SessionID string `form:"session_id" validate:"sessionid"`
	FileName  string `json:"filename" validate:"required,pdfname"`
}

type queryBody struct {
	UserQuery string `json:"user_query" validate:"notblank,max=1000"`
}

func TestSessionIDRule(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"", false},
		{"abcd", false},
		{"abc12", true},
		{"会话会话会", true},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			errs := v.Validate(sessionParams{SessionID: tt.id})
			if tt.valid {
				assert.Nil(t, errs)
				return
			}
			require.NotNil(t, errs)
			field, msg := errs.First()
			assert.Equal(t, "session_id", field)
			assert.Equal(t, "Valid session_id is required", msg)
		})
	}
}

func TestPDFNameRule(t *testing.T) {
	v := New()
	assert.Nil(t, v.Validate(uploadParams{SessionID: "abc12", FileName: "Report.PDF"}))

	errs := v.Validate(uploadParams{SessionID: "abc12", FileName: "report.txt"})
	require.NotNil(t, errs)
	_, msg := errs.First()
	assert.Equal(t, "File must have .pdf extension", msg)
}

func TestNotBlankAndMax(t *testing.T) {
	v := Global()

	errs := v.Validate(queryBody{UserQuery: "   "})
	require.NotNil(t, errs)
	assert.Equal(t, "notblank", errs.Errors[0].Tag)

	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'a'
	}
	errs = v.Validate(queryBody{UserQuery: string(long)})
	require.NotNil(t, errs)
	assert.Equal(t, "max", errs.Errors[0].Tag)
	assert.Contains(t, errs.Error(), "user_query")
}

func TestChineseMessages(t *testing.T) {
	errs := New().ValidateWithLang(sessionParams{SessionID: "x"}, LangZH)
	require.NotNil(t, errs)
	_, msg := errs.First()
	assert.Equal(t, "session_id无效", msg)
}
