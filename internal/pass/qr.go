package pass

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Scanned QR payloads are verification URLs ending in the pass id.
// Anything that does not match is silently ignored by the scanner UI,
// so decoding reports match/no-match instead of erroring.
var scanPattern = regexp.MustCompile(`/qr-verify-pass/([A-Z0-9]+)$`)

// QRCodec derives QR payloads from pass ids and decodes scanned text
// back into candidate ids. The payload carries only the id, so data
// corrections on a pass never invalidate an already printed code.
type QRCodec struct {
	baseURL string
}

func NewQRCodec(baseURL string) *QRCodec {
	return &QRCodec{baseURL: strings.TrimRight(baseURL, "/")}
}

// VerifyURL is the payload encoded into the QR image.
func (c *QRCodec) VerifyURL(passID string) string {
	return c.baseURL + "/qr-verify-pass/" + passID
}

// ImageDataURL renders the verification URL as a PNG data URL suitable
// for an <img src> on the printed pass.
func (c *QRCodec) ImageDataURL(passID string) (string, error) {
	png, err := qrcode.Encode(c.VerifyURL(passID), qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// DecodeScan extracts a pass id from raw scanned text. The second
// return is false when the text is not a verification URL.
func DecodeScan(raw string) (string, bool) {
	match := scanPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return "", false
	}
	return match[1], true
}
