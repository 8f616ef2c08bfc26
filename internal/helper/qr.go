package helper

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// QRToDataURL renders a raw WhatsApp QR string into a PNG data URL that the
// frontend can drop straight into an <img> tag.
func QRToDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
