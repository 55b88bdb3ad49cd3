package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailValidator_ValidateEmail(t *testing.T) {
	v := NewEmailValidator()

	tests := []struct {
		name    string
		email   string
		wantErr error
	}{
		{"普通地址", "anna@example.se", nil},
		{"子域名", "info@mail.harpans.se", nil},
		{"带加号", "anna+blogg@example.se", nil},
		{"单字符本地部分", "a@example.se", nil},
		{"空字符串", "", ErrInvalidEmail},
		{"缺少@", "anna.example.se", ErrInvalidEmail},
		{"缺少顶级域", "anna@localhost", ErrInvalidDomain},
		{"带显示名", "Anna <anna@example.se>", ErrInvalidEmail},
		{"过长", strings.Repeat("a", 250) + "@example.se", ErrEmailTooLong},
		{"域名以连字符开头", "anna@-example.se", ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateEmail(tt.email)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "anna@example.se", NormalizeEmail("  Anna@Example.SE \n"))
}

func TestContactForm_Validate(t *testing.T) {
	valid := func() ContactForm {
		return ContactForm{
			Name:    "Anna Andersson",
			Email:   "anna@example.se",
			Message: "Vi behöver hjälp med bokslutet.",
			Consent: "on",
		}
	}

	t.Run("有效表单", func(t *testing.T) {
		f := valid()
		assert.True(t, f.Validate().Empty())
	})

	t.Run("缺少同意", func(t *testing.T) {
		f := valid()
		f.Consent = ""
		errs := f.Validate()
		assert.Equal(t, []string{MsgConsent}, errs["gdpr_consent"])
	})

	t.Run("缺少必填字段", func(t *testing.T) {
		f := ContactForm{Consent: "true"}
		errs := f.Validate()
		assert.Equal(t, []string{MsgRequired}, errs["name"])
		assert.Equal(t, []string{MsgRequired}, errs["email"])
		assert.Equal(t, []string{MsgRequired}, errs["message"])
		assert.NotContains(t, errs, "phone")
	})

	t.Run("无效邮箱", func(t *testing.T) {
		f := valid()
		f.Email = "inte-en-adress"
		assert.Equal(t, []string{MsgInvalidEmail}, f.Validate()["email"])
	})

	t.Run("字段过长", func(t *testing.T) {
		f := valid()
		f.OrgNumber = strings.Repeat("5", MaxOrgNumberLength+1)
		assert.Equal(t, []string{MsgTooLong}, f.Validate()["org_number"])
	})

	t.Run("规范化", func(t *testing.T) {
		f := ContactForm{Name: "  Anna ", Email: " ANNA@Example.se "}
		f.Normalize()
		assert.Equal(t, "Anna", f.Name)
		assert.Equal(t, "anna@example.se", f.Email)
	})
}

func TestCallbackRequest(t *testing.T) {
	r := CallbackRequest{Name: " Erik ", Phone: "  "}
	r.Normalize()
	assert.False(t, r.Valid())

	r.Phone = "070-123 45 67"
	assert.True(t, r.Valid())
}

func TestPreferredTimeLabel(t *testing.T) {
	assert.Equal(t, "Förmiddag (08:00–12:00)", PreferredTimeLabel("morning"))
	assert.Equal(t, "Eftermiddag (12:00–17:00)", PreferredTimeLabel("afternoon"))
	assert.Equal(t, "När som helst under dagen", PreferredTimeLabel("anytime"))
	assert.Equal(t, "Ej angivet", PreferredTimeLabel("midnight"))
	assert.Equal(t, "Ej angivet", PreferredTimeLabel(""))
}

func TestContentID_UnmarshalJSON(t *testing.T) {
	var item ContentItem
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42, "type": "blog_post"}`), &item))
	assert.Equal(t, ContentID("42"), item.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id": "post-7"}`), &item))
	assert.Equal(t, ContentID("post-7"), item.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id": true}`), &item))
}
