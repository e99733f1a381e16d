package cv

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// cvTemplate 是带页边距和默认字体的空白文档，正文只有一个占位段落。
//
//go:embed assets/cv_template.docx
var cvTemplate []byte

const bodyPlaceholder = `<w:p><w:r><w:t>{{CV_BODY}}</w:t></w:r></w:p>`

// BuildDOCX fills the CV template, one paragraph per line.
// Heading lines are bold and larger.
func BuildDOCX(text string) ([]byte, error) {
	var body strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			body.WriteString("<w:p/>")
			continue
		}
		var esc bytes.Buffer
		if err := xml.EscapeText(&esc, []byte(strings.TrimLeft(line, "# "))); err != nil {
			return nil, fmt.Errorf("escape docx text: %w", err)
		}
		if IsHeading(line) {
			fmt.Fprintf(&body, `<w:p><w:r><w:rPr><w:b/><w:sz w:val="28"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, esc.String())
			continue
		}
		fmt.Fprintf(&body, `<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, esc.String())
	}

	tpl, err := docx.ReadDocxFromMemory(bytes.NewReader(cvTemplate), int64(len(cvTemplate)))
	if err != nil {
		return nil, fmt.Errorf("open docx template: %w", err)
	}
	defer tpl.Close()
	doc := tpl.Editable()
	if !strings.Contains(doc.GetContent(), bodyPlaceholder) {
		return nil, errors.New("docx template: body placeholder missing")
	}
	doc.ReplaceRaw(bodyPlaceholder, body.String(), 1)

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}

// docxText reads the paragraphs of the main document part.
func docxText(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	dec := xml.NewDecoder(strings.NewReader(r.Editable().GetContent()))
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// IsHeading 判断一行是否为小节标题：以 # 开头，或是不超过 50 个字符的全大写行。
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return true
	}
	if line == "" || len(line) >= 50 {
		return false
	}
	return strings.ToUpper(line) == line && strings.ToLower(line) != line
}
