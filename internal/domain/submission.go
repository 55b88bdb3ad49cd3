package domain

import "time"

// ContactSubmission 联系表单提交记录（只追加）
type ContactSubmission struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name          string    `json:"name" gorm:"type:varchar(255);not null"`
	Email         string    `json:"email" gorm:"type:varchar(254);not null"`
	Phone         string    `json:"phone" gorm:"type:varchar(50)"`
	OrgNumber     string    `json:"orgNumber" gorm:"type:varchar(20)"`
	Subject       string    `json:"subject" gorm:"type:varchar(255)"`
	Message       string    `json:"message" gorm:"type:text;not null"`
	Consent       bool      `json:"consent"`
	SubmittedAt   time.Time `json:"submittedAt" gorm:"index:idx_submission_client_time,priority:2"`
	ClientAddress string    `json:"clientAddress" gorm:"type:varchar(45);index:idx_submission_client_time,priority:1"`
}

// TableName 指定表名
func (ContactSubmission) TableName() string {
	return "contact_submissions"
}

// ContactForm 联系表单输入
type ContactForm struct {
	Name      string `form:"name"`
	Email     string `form:"email"`
	Phone     string `form:"phone"`
	OrgNumber string `form:"org_number"`
	Subject   string `form:"subject"`
	Message   string `form:"message"`
	Consent   string `form:"gdpr_consent"`
}

// CallbackRequest 回电请求（不持久化，仅发送邮件）
type CallbackRequest struct {
	Name          string `form:"name"`
	Phone         string `form:"phone"`
	Email         string `form:"email"`
	PreferredTime string `form:"preferred_time"`
	Message       string `form:"message"`
}

// 回电时段
const (
	PreferredMorning   = "morning"
	PreferredAfternoon = "afternoon"
	PreferredAnytime   = "anytime"
)

var preferredTimeLabels = map[string]string{
	PreferredMorning:   "Förmiddag (08:00–12:00)",
	PreferredAfternoon: "Eftermiddag (12:00–17:00)",
	PreferredAnytime:   "När som helst under dagen",
}

// PreferredTimeLabel 返回回电时段的瑞典语描述，未知值返回 "Ej angivet"
func PreferredTimeLabel(value string) string {
	if label, ok := preferredTimeLabels[value]; ok {
		return label
	}
	return "Ej angivet"
}
