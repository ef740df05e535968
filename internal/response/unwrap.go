package response

import (
	"encoding/base64"
	"mime"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// Fixed texts for results that carry nothing to show.
const (
	NoResult  = "No result"
	NoContent = "No content in result"
)

// Text is a tool result rendered for the conversation.
type Text struct {
	Output  string
	IsError bool
}

// Unwrap renders the result payload of a tool call:
//
//   - an object with a content list yields the first item's text
//     ("No content in result" when the list is empty), and isError marks it
//     failed;
//   - an object with structuredContent but no content yields that JSON;
//   - a JSON string yields the string itself;
//   - anything else yields its raw JSON text.
func Unwrap(raw []byte) Text {
	if strings.TrimSpace(string(raw)) == "" {
		return Text{Output: NoResult}
	}
	if !gjson.ValidBytes(raw) {
		return Text{Output: strings.TrimSpace(string(raw))}
	}
	r := gjson.ParseBytes(raw)

	switch {
	case r.Type == gjson.Null:
		return Text{Output: NoResult}
	case r.Type == gjson.String:
		return Text{Output: r.String()}
	case !r.IsObject():
		return Text{Output: r.Raw}
	}

	isErr := r.Get("isError").Bool()
	if content := r.Get("content"); content.IsArray() {
		items := content.Array()
		if len(items) == 0 {
			return Text{Output: NoContent, IsError: isErr}
		}
		return Text{Output: renderItem(items[0]), IsError: isErr}
	}
	if structured := r.Get("structuredContent"); structured.Exists() {
		return Text{Output: structured.Raw, IsError: isErr}
	}
	return Text{Output: r.Raw, IsError: isErr}
}

func renderItem(item gjson.Result) string {
	if text := item.Get("text"); text.Exists() {
		return text.String()
	}

	switch item.Get("type").String() {
	case "image", "audio":
		if path, err := writeTempBase64("ollamcp-"+item.Get("type").String(), item.Get("mimeType").String(), item.Get("data").String()); err == nil {
			return path
		}
	case "resource":
		res := item.Get("resource")
		if text := res.Get("text"); text.Exists() {
			return text.String()
		}
		if blob := res.Get("blob"); blob.Exists() {
			if path, err := writeTempBase64("ollamcp-resource", res.Get("mimeType").String(), blob.String()); err == nil {
				return path
			}
		}
	}
	return item.Raw
}

func writeTempBase64(prefix, mimeType, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", prefix+"-*"+extForMIMEType(mimeType))
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func extForMIMEType(mimeType string) string {
	mimeType, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), ";")
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ".bin"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	if strings.HasPrefix(mimeType, "text/") {
		return ".txt"
	}
	return ".bin"
}
