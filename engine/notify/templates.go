package notify

import (
	"bytes"
	"html/template"

	"github.com/czvisa/monitor/engine/store"
)

var (
	firstRecordTmpl  = template.Must(template.New("first_record").Parse(`<html><body><p>Your case <strong>{{.Code}}</strong> now has a status: <strong>{{.Status}}</strong>.</p></body></html>`))
	statusChangeTmpl = template.Must(template.New("status_change").Parse(`<html><body><p>Your case <strong>{{.Code}}</strong> changed from <strong>{{.OldStatus}}</strong> to <strong>{{.NewStatus}}</strong>.</p></body></html>`))
	verificationTmpl = template.Must(template.New("verification_link").Parse(`<html><body><p>Confirm adding <strong>{{.Code}}</strong> to monitoring by clicking <a href="{{.Link}}">this link</a>. This link expires in 10 minutes.</p></body></html>`))
	managementTmpl   = template.Must(template.New("management_code").Parse(`<html><body><p>Your management code is <strong>{{.Code}}</strong>. It expires in 10 minutes.</p></body></html>`))

	verifySuccessPage = []byte(`<html><body><h1>Code added</h1><p>Your code has been added to monitoring.</p></body></html>`)
	verifyErrorPage   = []byte(`<html><body><h1>Link expired or invalid</h1><p>Please request a new verification email.</p></body></html>`)
)

func renderFirstRecord(code string, status store.Status) (string, error) {
	return renderHTML(firstRecordTmpl, struct {
		Code   string
		Status store.Status
	}{code, status})
}

func renderStatusChange(code string, oldStatus, newStatus store.Status) (string, error) {
	return renderHTML(statusChangeTmpl, struct {
		Code                 string
		OldStatus, NewStatus store.Status
	}{code, oldStatus, newStatus})
}

func renderVerificationLink(code, link string) (string, error) {
	return renderHTML(verificationTmpl, struct{ Code, Link string }{code, link})
}

func renderManagementCode(code string) (string, error) {
	return renderHTML(managementTmpl, struct{ Code string }{code})
}

func renderHTML(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// VerifySuccessPage and VerifyErrorPage back the GET /api/verify-add/{token}
// HTML responses.
func VerifySuccessPage() []byte { return verifySuccessPage }
func VerifyErrorPage() []byte   { return verifyErrorPage }
