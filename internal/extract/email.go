package extract

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/richardlehane/mscfb"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// MAPI property ids stored as __substg1.0_<id><type> streams in .msg files.
const (
	propSubject    = "0037"
	propSenderName = "0C1A"
	propSenderMail = "0C1F"
	propDisplayTo  = "0E04"
	propBody       = "1000"

	propTypeUnicode = "001F"
	propTypeString8 = "001E"

	// PT_SYSTIME tags in the top-level property stream
	tagClientSubmitTime = 0x00390040
	tagDeliveryTime     = 0x0E060040

	propertiesStream = "__properties_version1.0"
	// Top-level message property streams start with a 32-byte header.
	topLevelPropertyHeader = 32
)

// message is the normalized form of an email in either format.
type message struct {
	Subject string
	From    string
	To      string
	Date    string
	Body    string
}

func (m message) text() string {
	return fmt.Sprintf("Subject: %s\nFrom: %s\nTo: %s\nDate: %s\nBody:\n%s", m.Subject, m.From, m.To, m.Date, m.Body)
}

// extractEmail renders an Outlook .msg or an RFC 5322 .eml file as unit 1.
func extractEmail(_ *Dispatcher, path string) ([]types.Unit, error) {
	var (
		msg message
		err error
	)
	if types.NormalizeExt(path) == ".eml" {
		msg, err = readEML(path)
	} else {
		msg, err = readMSG(path)
	}
	if err != nil {
		return nil, err
	}
	return []types.Unit{{Index: 1, Text: msg.text()}}, nil
}

func readMSG(path string) (message, error) {
	f, err := os.Open(path)
	if err != nil {
		return message{}, fmt.Errorf("open msg: %w", err)
	}
	defer func() { _ = f.Close() }()

	doc, err := mscfb.New(f)
	if err != nil {
		return message{}, fmt.Errorf("read compound file: %w", err)
	}

	props := map[string]string{}
	var submitted time.Time
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		// Recipient and attachment storages carry their own copies of
		// these properties; only the message root is wanted.
		if len(entry.Path) > 0 {
			continue
		}
		switch {
		case entry.Name == propertiesStream:
			buf, err := io.ReadAll(entry)
			if err != nil {
				return message{}, fmt.Errorf("read properties: %w", err)
			}
			submitted = messageTime(buf)
		case strings.HasPrefix(entry.Name, "__substg1.0_") && len(entry.Name) == len("__substg1.0_")+8:
			id := strings.ToUpper(entry.Name[12:16])
			typ := strings.ToUpper(entry.Name[16:20])
			if typ != propTypeUnicode && typ != propTypeString8 {
				continue
			}
			buf, err := io.ReadAll(entry)
			if err != nil {
				return message{}, fmt.Errorf("read %s: %w", entry.Name, err)
			}
			props[id] = decodeMAPIString(buf, typ)
		}
	}

	from := props[propSenderName]
	if addr := props[propSenderMail]; addr != "" && addr != from {
		if from == "" {
			from = addr
		} else {
			from = fmt.Sprintf("%s <%s>", from, addr)
		}
	}
	msg := message{
		Subject: props[propSubject],
		From:    from,
		To:      props[propDisplayTo],
		Body:    props[propBody],
	}
	if !submitted.IsZero() {
		msg.Date = submitted.UTC().Format(time.RFC1123Z)
	}
	if msg.Subject == "" && msg.Body == "" {
		return message{}, fmt.Errorf("no message properties found")
	}
	return msg, nil
}

func decodeMAPIString(b []byte, typ string) string {
	if typ == propTypeUnicode {
		u := make([]uint16, len(b)/2)
		for i := range u {
			u[i] = binary.LittleEndian.Uint16(b[2*i:])
		}
		return strings.TrimRight(string(utf16.Decode(u)), "\x00")
	}
	s := strings.TrimRight(string(b), "\x00")
	if utf8.ValidString(s) {
		return s
	}
	// 8-bit strings use the sender's code page; Latin-1 is the common case.
	runes := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		runes[i] = rune(s[i])
	}
	return string(runes)
}

// messageTime finds the submit or delivery time in a top-level property
// stream. Entries are 16 bytes: tag, flags, then an 8-byte value.
func messageTime(buf []byte) time.Time {
	var delivered time.Time
	for off := topLevelPropertyHeader; off+16 <= len(buf); off += 16 {
		tag := binary.LittleEndian.Uint32(buf[off:])
		value := binary.LittleEndian.Uint64(buf[off+8:])
		switch tag {
		case tagClientSubmitTime:
			return filetime(value)
		case tagDeliveryTime:
			delivered = filetime(value)
		}
	}
	return delivered
}

// filetime converts 100ns intervals since 1601-01-01 to a time.
func filetime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	const epochDelta = 116444736000000000
	if v < epochDelta {
		return time.Time{}
	}
	return time.Unix(0, int64(v-epochDelta)*100)
}

func readEML(path string) (message, error) {
	f, err := os.Open(path)
	if err != nil {
		return message{}, fmt.Errorf("open eml: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := mail.ReadMessage(f)
	if err != nil {
		return message{}, fmt.Errorf("parse eml: %w", err)
	}

	dec := new(mime.WordDecoder)
	header := func(key string) string {
		v := m.Header.Get(key)
		if d, err := dec.DecodeHeader(v); err == nil {
			return d
		}
		return v
	}

	body, err := plainBody(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body)
	if err != nil {
		return message{}, fmt.Errorf("read eml body: %w", err)
	}

	return message{
		Subject: header("Subject"),
		From:    header("From"),
		To:      header("To"),
		Date:    m.Header.Get("Date"),
		Body:    body,
	}, nil
}

// plainBody returns the first text/plain part of a possibly multipart body.
func plainBody(contentType, encoding string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			text, err := plainBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", err
			}
			if text != "" {
				return text, nil
			}
		}
	}
	if mediaType != "text/plain" {
		return "", nil
	}

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
