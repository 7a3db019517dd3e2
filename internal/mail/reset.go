package mail

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"go.uber.org/zap"

	"github.com/d60-Lab/microblog/pkg/logger"
)

const resetSubject = "Microblog - Reset your password"

var resetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(`Dear {{.Username}},

To reset your password click on the following link:

{{.Link}}

If you have not requested a password reset simply ignore this message.

Sincerely,

The Microblog Team
`))

var resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<p>Dear {{.Username}},</p>
<p>
    To reset your password
    <a href="{{.Link}}">click here</a>.
</p>
<p>Alternatively, you can paste the following link in your browser's address bar:</p>
<p>{{.Link}}</p>
<p>If you have not requested a password reset simply ignore this message.</p>
<p>Sincerely,</p>
<p>The Microblog Team</p>
`))

type resetData struct {
	Username string
	Link     string
}

// ResetMailer 渲染并投递重置密码邮件
type ResetMailer struct {
	dispatcher *Dispatcher
	sender     string
	baseURL    string
}

func NewResetMailer(d *Dispatcher, sender, publicURL string) *ResetMailer {
	return &ResetMailer{dispatcher: d, sender: sender, baseURL: strings.TrimRight(publicURL, "/")}
}

// SendPasswordReset 渲染失败只记日志，调用方不感知
func (m *ResetMailer) SendPasswordReset(username, email, token string) {
	data := resetData{Username: username, Link: m.baseURL + "/reset/" + token}
	var text, html strings.Builder
	if err := resetText.Execute(&text, data); err != nil {
		logger.Error("render reset mail", zap.Error(err))
		return
	}
	if err := resetHTML.Execute(&html, data); err != nil {
		logger.Error("render reset mail", zap.Error(err))
		return
	}
	m.dispatcher.SendEmail(resetSubject, m.sender, []string{email}, text.String(), html.String())
}
