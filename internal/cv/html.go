package cv

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.UGCPolicy()

const cvHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
@page { size: A4; margin: 18mm 16mm; }
body { font-family: 'Helvetica Neue', Arial, sans-serif; font-size: 10.5pt; color: #1f2933; line-height: 1.45; }
h2 { font-size: 12.5pt; color: #1f3a8a; border-bottom: 1px solid #cbd2d9; padding-bottom: 2px; margin: 14px 0 6px; text-transform: uppercase; letter-spacing: .04em; }
ul { margin: 2px 0 6px 16px; padding: 0; }
li { margin: 1px 0; }
p { margin: 2px 0; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>`

var cvPage = template.Must(template.New("cv").Parse(cvHTMLTemplate))

// RenderHTML 将改写后的简历文本渲染成可打印的 HTML。
// 文本中的内联 HTML 经 UGC 策略清洗后保留。
func RenderHTML(title, text string) (string, error) {
	var body strings.Builder
	inList := false
	closeList := func() {
		if inList {
			body.WriteString("</ul>\n")
			inList = false
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			closeList()
		case IsHeading(line):
			closeList()
			body.WriteString("<h2>" + strings.TrimLeft(line, "# ") + "</h2>\n")
		case strings.HasPrefix(line, "•") || strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			if !inList {
				body.WriteString("<ul>\n")
				inList = true
			}
			item := strings.TrimSpace(strings.TrimLeft(line, "•-* "))
			body.WriteString("<li>" + item + "</li>\n")
		default:
			closeList()
			body.WriteString("<p>" + line + "</p>\n")
		}
	}
	closeList()

	if title == "" {
		title = "Curriculum Vitae"
	}
	var out bytes.Buffer
	err := cvPage.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(htmlPolicy.Sanitize(body.String())),
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
