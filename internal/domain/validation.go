package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail  = errors.New("invalid email format")
	ErrEmailTooLong  = errors.New("email address too long")
	ErrInvalidDomain = errors.New("invalid domain format")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253

	MaxNameLength      = 255
	MaxPhoneLength     = 50
	MaxOrgNumberLength = 20
	MaxSubjectLength   = 255
	MaxMessageLength   = 5000
)

// 表单错误提示（瑞典语，直接展示给访客）
const (
	MsgRequired     = "Detta fält måste fyllas i."
	MsgInvalidEmail = "Ange en giltig e-postadress."
	MsgTooLong      = "Texten är för lång."
	MsgConsent      = "Du måste godkänna behandling av personuppgifter"
)

// 域名验证（支持子域名，至少一个点）
var domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// EmailValidator 邮箱验证器
type EmailValidator struct{}

// NewEmailValidator 创建邮箱验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 验证邮箱地址（调用方应先 NormalizeEmail）
func (v *EmailValidator) ValidateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	// 拒绝 "Name <addr>" 这类带显示名的写法
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	local, domainPart := email[:at], email[at+1:]
	if local == "" || len(local) > MaxLocalPartLength {
		return ErrInvalidEmail
	}
	return v.ValidateDomain(domainPart)
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	domain = strings.ToLower(domain)
	if domain == "" || len(domain) > MaxDomainLength {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// FieldErrors 字段级验证错误，结构与前端表单约定一致
type FieldErrors map[string][]string

// Add 添加一条字段错误
func (e FieldErrors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Empty 是否没有错误
func (e FieldErrors) Empty() bool {
	return len(e) == 0
}

// IsTruthy 判断复选框值
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

// Normalize 去除各字段首尾空白，邮箱转小写
func (f *ContactForm) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = NormalizeEmail(f.Email)
	f.Phone = strings.TrimSpace(f.Phone)
	f.OrgNumber = strings.TrimSpace(f.OrgNumber)
	f.Subject = strings.TrimSpace(f.Subject)
	f.Message = strings.TrimSpace(f.Message)
}

// Validate 验证联系表单，返回字段级错误
func (f *ContactForm) Validate() FieldErrors {
	errs := FieldErrors{}
	v := NewEmailValidator()

	requireText(errs, "name", f.Name, MaxNameLength)
	requireText(errs, "message", f.Message, MaxMessageLength)
	optionalText(errs, "phone", f.Phone, MaxPhoneLength)
	optionalText(errs, "org_number", f.OrgNumber, MaxOrgNumberLength)
	optionalText(errs, "subject", f.Subject, MaxSubjectLength)

	switch {
	case f.Email == "":
		errs.Add("email", MsgRequired)
	case v.ValidateEmail(f.Email) != nil:
		errs.Add("email", MsgInvalidEmail)
	}

	if !IsTruthy(f.Consent) {
		errs.Add("gdpr_consent", MsgConsent)
	}
	return errs
}

// Normalize 去除回电请求字段首尾空白
func (r *CallbackRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Email = strings.TrimSpace(r.Email)
	r.PreferredTime = strings.TrimSpace(r.PreferredTime)
	r.Message = strings.TrimSpace(r.Message)
}

// Valid 回电请求只要求姓名与电话
func (r *CallbackRequest) Valid() bool {
	return r.Name != "" && r.Phone != ""
}

func requireText(errs FieldErrors, field, value string, max int) {
	if value == "" {
		errs.Add(field, MsgRequired)
		return
	}
	optionalText(errs, field, value, max)
}

func optionalText(errs FieldErrors, field, value string, max int) {
	if utf8.RuneCountInString(value) > max {
		errs.Add(field, MsgTooLong)
	}
}
