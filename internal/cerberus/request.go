package cerberus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
)

// maxScanBytes caps how much of a body is buffered for inspection.
const maxScanBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// adaptRequest builds the guard view of a gin request. The body is buffered
// and restored so handlers can still bind it; it is also cached under
// gin.BodyBytesKey for ShouldBindBodyWith.
func adaptRequest(ctx *gin.Context) (*guard.Request, error) {
	req := &guard.Request{
		Method:     ctx.Request.Method,
		Path:       ctx.Request.URL.Path,
		RemoteAddr: ctx.Request.RemoteAddr,
		Header:     ctx.Request.Header,
		Query:      ctx.Request.URL.Query(),
		UserID:     userID(ctx),
	}

	if ctx.Request.Body == nil || ctx.Request.Body == http.NoBody {
		return req, nil
	}
	raw, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxScanBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	_ = ctx.Request.Body.Close()
	if len(raw) > maxScanBytes {
		return nil, errBodyTooLarge
	}
	ctx.Request.Body = io.NopCloser(bytes.NewReader(raw))
	ctx.Set(gin.BodyBytesKey, raw)

	req.RawBody = raw
	req.Body = decodeBody(ctx.ContentType(), raw)
	return req, nil
}

// decodeBody turns raw into something the detector can walk. A body that
// parses as JSON is always scanned decoded, whatever the declared
// Content-Type. Anything undecodable is scanned as text.
func decodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err == nil {
		return payload
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	switch mediaType {
	case binding.MIMEPOSTForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return string(raw)
		}
		return values
	case binding.MIMEMultipartPOSTForm:
		return decodeMultipart(params["boundary"], raw)
	default:
		return string(raw)
	}
}

// decodeMultipart collects the text fields and file names of a multipart
// body. A body that does not parse is scanned as text.
func decodeMultipart(boundary string, raw []byte) any {
	if boundary == "" {
		return string(raw)
	}
	form, err := multipart.NewReader(bytes.NewReader(raw), boundary).ReadForm(maxScanBytes)
	if err != nil {
		return string(raw)
	}
	defer func() { _ = form.RemoveAll() }()

	values := url.Values{}
	for k, vs := range form.Value {
		for _, v := range vs {
			values.Add(k, v)
		}
	}
	for k, files := range form.File {
		for _, fh := range files {
			values.Add(k, fh.Filename)
		}
	}
	return values
}

// userID returns the authenticated user id set by the optional auth
// middleware, or "".
func userID(ctx *gin.Context) string {
	v, ok := ctx.Get("userID")
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case uint:
		return strconv.FormatUint(uint64(id), 10)
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}
