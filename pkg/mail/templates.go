// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"bytes"
	"html/template"
)

// AlertMailParams is the data rendered into a security alert mail.
type AlertMailParams struct {
	Kind      string
	Count     int
	Window    string
	FiredAt   string
	AlertID   string
	Details   map[string]interface{}
	Dashboard string
}

const alertTemplateRaw = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
  <h2>Security alert: {{.Kind}}</h2>
  <p>{{.Count}} events of kind <strong>{{.Kind}}</strong> within {{.Window}}.</p>
  <table>
    <tr><td>Alert ID</td><td>{{.AlertID}}</td></tr>
    <tr><td>Fired at</td><td>{{.FiredAt}}</td></tr>
    {{- range $k, $v := .Details}}
    <tr><td>{{$k}}</td><td>{{$v}}</td></tr>
    {{- end}}
  </table>
  {{- if .Dashboard}}
  <p><a href="{{.Dashboard}}">Open dashboard</a></p>
  {{- end}}
</body>
</html>
`

var alertTemplate = template.New("alert")

func init() {
	if _, err := alertTemplate.Parse(alertTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

func RenderAlert(p AlertMailParams) (string, error) {
	return render(alertTemplate, p)
}
