package smtp_test

import (
	"context"
	"errors"
	netsmtp "net/smtp"
	"testing"
	"testing/fstest"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/provider/smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestDispatcher(t *testing.T, sendErr error) (*smtp.Dispatcher, *[]sentMail) {
	t.Helper()

	var sent []sentMail
	d, err := smtp.NewDispatcher(smtp.Config{
		Host: "mail.example.com",
		Port: 2525,
		From: "noreply@example.com",
	}, smtp.WithSendFunc(func(addr string, _ netsmtp.Auth, from string, to []string, msg []byte) error {
		if sendErr != nil {
			return sendErr
		}
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}))
	require.NoError(t, err)
	return d, &sent
}

func TestDispatcher_RendersEveryWorkflow(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	workflows := []string{
		onboarding.WorkflowVerifySelfRegistration,
		onboarding.WorkflowVerifyInvitation,
		onboarding.WorkflowVerifyEmail,
		onboarding.WorkflowVerifyEmailChange,
		onboarding.WorkflowOtpCode,
	}

	for _, workflow := range workflows {
		t.Run(workflow, func(t *testing.T) {
			subject, body, err := d.Render(workflow, map[string]any{
				"link":      "https://forum.example.com/verify?token=abc&email=a%40b.c",
				"username":  "ada",
				"new_email": "ada@new.example.com",
				"code":      "012345",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, subject)
			assert.NotEmpty(t, body)
		})
	}
}

func TestDispatcher_TriggerSendsMail(t *testing.T) {
	d, sent := newTestDispatcher(t, nil)

	ok := d.Trigger(context.Background(), onboarding.WorkflowOtpCode, "", "ada@example.com", map[string]any{
		"code": "004217",
	})
	require.True(t, ok)
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "mail.example.com:2525", mail.addr)
	assert.Equal(t, "noreply@example.com", mail.from)
	assert.Equal(t, []string{"ada@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "Subject: Your verification code\r\n")
	assert.Contains(t, mail.msg, "004217")
}

func TestDispatcher_TriggerReportsFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, errors.New("relay refused"))

	ok := d.Trigger(context.Background(), onboarding.WorkflowVerifyEmail, "id-1", "ada@example.com", map[string]any{
		"link": "https://forum.example.com/verify",
	})
	assert.False(t, ok)
}

func TestDispatcher_UnknownWorkflow(t *testing.T) {
	d, sent := newTestDispatcher(t, nil)

	ok := d.Trigger(context.Background(), "does-not-exist", "", "ada@example.com", nil)
	assert.False(t, ok)
	assert.Empty(t, *sent)
}

func TestDispatcher_CustomTemplates(t *testing.T) {
	fsys := fstest.MapFS{
		"otp-code.html": &fstest.MapFile{Data: []byte(`{{define "subject"}}Code{{end}}<b>{{.code}}</b>`)},
	}

	d, err := smtp.NewDispatcher(smtp.Config{Host: "localhost", Port: 25}, smtp.WithTemplates(fsys))
	require.NoError(t, err)

	subject, body, err := d.Render(onboarding.WorkflowOtpCode, map[string]any{"code": "999999"})
	require.NoError(t, err)
	assert.Equal(t, "Code", subject)
	assert.Equal(t, "<b>999999</b>", body)

	_, _, err = d.Render(onboarding.WorkflowVerifyEmail, nil)
	assert.Error(t, err)
}
