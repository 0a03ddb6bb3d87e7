// Package notify 在迁移结束后发送通知
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/dbmirror/dbmirror/src/configs"
	"github.com/dbmirror/dbmirror/src/consts"
	"github.com/dbmirror/dbmirror/src/orchestrator"
)

const summaryTemplate = `{{ .AppName }} {{ .Status }}
{{ if .RunID }}Run:        {{ .RunID }}
{{ end }}Mode:       {{ .Mode }}
Databases:  {{ if .Databases }}{{ .Databases | join ", " }}{{ else }}-{{ end }}
{{ if .Skipped }}Skipped:    {{ .Skipped | join ", " }}
{{ end }}Started:    {{ .StartedAt | date "2006-01-02 15:04:05" }}
Duration:   {{ .Duration.Round 1000000000 }}
Tables:     {{ .Tables }} ({{ .Completed }} completed, {{ .Failed }} failed{{ if .Pending }}, {{ .Pending }} not started{{ end }})
Faults:     {{ .Faults }}{{ if .Faults }} (see {{ .FaultLog }}){{ end }}
{{ if .Error }}
Error: {{ .Error | trim }}
{{ end }}`

var tmpl = template.Must(template.New("summary").Funcs(sprig.TxtFuncMap()).Parse(summaryTemplate))

type summaryData struct {
	*orchestrator.Summary
	AppName  string
	Status   string
	Error    string
	FaultLog string
}

// RenderSummary 生成通知标题与正文
func RenderSummary(s *orchestrator.Summary, runErr error, faultLog string) (subject, body string, err error) {
	data := summaryData{Summary: s, AppName: consts.AppName, Status: "migration completed", FaultLog: faultLog}
	if runErr != nil {
		data.Status = "migration failed"
		data.Error = runErr.Error()
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render summary: %w", err)
	}
	subject = fmt.Sprintf("[%s] %s: %d/%d tables", consts.AppName, data.Status, s.Completed, s.Tables)
	return subject, buf.String(), nil
}

// Mailer 由 gomail.Dialer 实现
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 通过 SMTP 发送纯文本邮件
type EmailNotifier struct {
	cfg    configs.Email
	mailer Mailer
}

// NewEmailNotifier 端口为 465 时使用 SSL
func NewEmailNotifier(cfg configs.Email) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		mailer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SenderEmail, cfg.SenderPassword),
	}
}

// Send 发送邮件
func (n *EmailNotifier) Send(subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.SenderEmail)
	m.SetHeader("To", n.cfg.RecipientEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return n.mailer.DialAndSend(m)
}

// SendSummary 按配置发送运行结果，发送失败只记录日志
func SendSummary(ctx context.Context, cfg *configs.Config, s *orchestrator.Summary, runErr error) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if !cfg.Notify.Email.Enable || s == nil {
		return nil
	}
	subject, body, err := RenderSummary(s, runErr, cfg.FaultLog)
	if err != nil {
		return err
	}
	if err := NewEmailNotifier(cfg.Notify.Email).Send(subject, body); err != nil {
		logrus.WithError(err).Error("Failed to send email")
	}
	return nil
}
