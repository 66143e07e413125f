package issuance

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/skip2/go-qrcode"
)

// ArtifactFilename is the blob name of a certificate. The verification code
// keeps two certificates of the same student apart.
func ArtifactFilename(fullName, code string) string {
	name := strings.Join(strings.Fields(fullName), "-")
	if code == "" {
		return "constancia-" + name + ".pdf"
	}
	return "constancia-" + name + "-" + code + ".pdf"
}

// QREncoder turns a URL into an image data URL.
type QREncoder func(content string) (string, error)

const qrSize = 200

// QRDataURL encodes content as a 200px PNG QR code data URL.
func QRDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	b.WriteString("data:image/png;base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(png))
	return b.String(), nil
}
