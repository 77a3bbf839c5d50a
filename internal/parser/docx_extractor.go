package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ExtractTextFromDOCX 从DOCX字节流中提取纯文本。
// DOCX 是一个 zip 包，正文在 word/document.xml 里；
// 这里只取 <w:t> 的文本节点，在 </w:p> 处换行。
func ExtractTextFromDOCX(data []byte) (string, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("读取DOCX包失败: %w", err)
	}

	var documentXML io.ReadCloser
	for _, f := range zipReader.File {
		if f.Name == "word/document.xml" {
			documentXML, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("打开 word/document.xml 失败: %w", err)
			}
			break
		}
	}
	if documentXML == nil {
		return "", fmt.Errorf("DOCX包中找不到 word/document.xml")
	}
	defer documentXML.Close()

	var sb strings.Builder
	decoder := xml.NewDecoder(documentXML)
	inText := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("解析 word/document.xml 失败: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			case "tab":
				sb.WriteString("\t")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("DOCX中没有可提取的文本")
	}
	return text, nil
}
