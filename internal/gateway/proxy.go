package gateway

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate/internal/wire"
)

// Well-known upstreams by wire format, used when no upstream override is
// configured. The Converse shape has no public default and must be
// configured explicitly.
const (
	anthropicUpstream = "https://api.anthropic.com"
	openaiUpstream    = "https://api.openai.com"
)

// hopHeaders are stripped before forwarding, per RFC 7230 §6.1.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handleProxy is the catch-all for outgoing provider requests.
func (s *Server) handleProxy(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"message": "not found", "type": "gateway_error"},
		})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "failed to read request body", "type": "invalid_request_error"},
		})
		return
	}

	sessionID := strings.TrimSpace(c.GetHeader("X-Session-Id"))
	if parent := strings.TrimSpace(c.GetHeader("X-Session-Parent-Id")); parent != "" && sessionID != "" {
		s.store.MarkChild(sessionID)
	}

	outcome := s.intercept(body, sessionID)
	s.forward(c, outcome)
}

// forward sends the (possibly modified) body upstream and streams the
// response back verbatim.
func (s *Server) forward(c *gin.Context, outcome interceptOutcome) {
	target := s.upstreamFor(outcome.format)
	if target == "" {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": gin.H{"message": "no upstream configured for request format", "type": "gateway_error"},
		})
		return
	}

	url := strings.TrimRight(target, "/") + c.Request.URL.RequestURI()
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, url, bytes.NewReader(outcome.body))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": gin.H{"message": "failed to build upstream request", "type": "gateway_error"},
		})
		return
	}
	copyForwardHeaders(req.Header, c.Request.Header)
	req.ContentLength = int64(len(outcome.body))

	resp, err := s.client.Do(req)
	if err != nil {
		log.WithError(err).WithField("upstream", target).Warn("upstream request failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": gin.H{"message": "upstream request failed", "type": "gateway_error"},
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for k, vals := range resp.Header {
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	streamCopy(c.Writer, resp.Body)
}

func (s *Server) upstreamFor(format wire.Format) string {
	cfg := s.cfg()
	if u := strings.TrimSpace(cfg.UpstreamURL); u != "" {
		return u
	}
	switch format {
	case wire.FormatClaude:
		return anthropicUpstream
	case wire.FormatResponses:
		return openaiUpstream
	case wire.FormatConverse:
		return strings.TrimSpace(cfg.ConverseUpstreamURL)
	}
	return ""
}

func copyForwardHeaders(dst, src http.Header) {
	for k, vals := range src {
		if isHopHeader(k) || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// streamCopy copies with per-chunk flushing so SSE streams reach the client
// without buffering.
func streamCopy(w io.Writer, r io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
