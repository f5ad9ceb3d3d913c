package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/finbrief/finbrief/pkg/config"
)

type fakeSender struct {
	msgs []*mail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func testEmailConfig() config.EmailConfig {
	return config.EmailConfig{
		SMTP: config.SMTPConfig{
			Server:   "smtp.example.com",
			Port:     465,
			Username: "bot@example.com",
			Password: "secret",
			UseSSL:   true,
		},
		Recipients: []string{"a@example.com", "b@example.com"},
		Template: config.EmailTemplateConfig{
			Subject:  "AI新闻分析报告 - {date}",
			FromName: "AI新闻助手",
		},
	}
}

func newTestService(cfg config.EmailConfig, fake *fakeSender) *Service {
	s := NewService(cfg)
	s.newSender = func() (sender, error) { return fake, nil }
	return s
}

func TestNewServiceNilWithoutServer(t *testing.T) {
	assert.Nil(t, NewService(config.EmailConfig{}))
}

func TestNilServiceSendIsNoOp(t *testing.T) {
	var s *Service
	assert.NoError(t, s.Send(context.Background(), "subject", "<p>body</p>"))
}

func TestSendBuildsMessage(t *testing.T) {
	fake := &fakeSender{}
	s := newTestService(testEmailConfig(), fake)

	err := s.Send(context.Background(), "📰 测试主题", "<p>正文内容</p>")
	require.NoError(t, err)
	require.Len(t, fake.msgs, 1)

	msg := fake.msgs[0]
	assert.Equal(t, []string{"📰 测试主题"}, msg.GetGenHeader(mail.HeaderSubject))
	assert.Len(t, msg.GetToString(), 2)
	assert.Contains(t, msg.GetFromString()[0], "bot@example.com")

	parts := msg.GetParts()
	require.Len(t, parts, 1)
	body, err := parts[0].GetContent()
	require.NoError(t, err)
	assert.Contains(t, string(body), "正文内容")
}

func TestSendSkipsWithoutRecipients(t *testing.T) {
	cfg := testEmailConfig()
	cfg.Recipients = nil

	fake := &fakeSender{}
	s := newTestService(cfg, fake)

	assert.NoError(t, s.Send(context.Background(), "s", "b"))
	assert.Empty(t, fake.msgs, "no dial without recipients")
}

func TestSendPropagatesDeliveryError(t *testing.T) {
	fake := &fakeSender{err: assert.AnError}
	s := newTestService(testEmailConfig(), fake)

	err := s.Send(context.Background(), "s", "b")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFormatSubject(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local)

	assert.Equal(t, "AI新闻分析报告 - 2025-03-14 09:30", FormatSubject("", now))
	assert.Equal(t, "财经晨报 2025-03-14 09:30", FormatSubject("财经晨报 {date}", now))
	assert.Equal(t, "无占位符主题", FormatSubject("无占位符主题", now))
}
