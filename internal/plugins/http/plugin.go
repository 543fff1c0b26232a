// Package http is a supplementary enrichment ProcessPlugin extracting the
// Host and User-Agent headers from an HTTP/1.1 request line in the payload
// of the packet that creates a flow record (PostCreate); later packets of
// the flow are not inspected. This is deliberately not a full HTTP parser:
// only a request-line sniff and a line-by-line header scan bounded to that
// packet's payload.
package http

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
	fplugin "github.com/flowprobe/fprobe/internal/plugin"
)

var methods = []string{"GET ", "POST ", "HEAD ", "PUT ", "DELETE ", "OPTIONS ", "CONNECT "}

type Ext struct {
	Host      string
	UserAgent string
	Method    string
	Path      string
}

func (Ext) ExtensionName() string { return "http" }

type Plugin struct {
	fplugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Metadata() fplugin.Metadata { return fplugin.Metadata{Name: "http"} }

func (p *Plugin) PostCreate(rec *flowrecord.Record, pkt *packet.Descriptor) fplugin.Verdict {
	if _, ok := rec.Extension("http"); ok {
		return fplugin.OK
	}
	if ext := sniff(pkt.Payload); ext != nil {
		rec.Extensions = append(rec.Extensions, ext)
	}
	return fplugin.OK
}

func sniff(payload []byte) *Ext {
	if len(payload) == 0 {
		return nil
	}
	isRequest := false
	for _, m := range methods {
		if bytes.HasPrefix(payload, []byte(m)) {
			isRequest = true
			break
		}
	}
	if !isRequest {
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	ext := &Ext{}
	if scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 {
			ext.Method = fields[0]
			ext.Path = fields[1]
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "host:"):
			ext.Host = strings.TrimSpace(line[len("host:"):])
		case strings.HasPrefix(lower, "user-agent:"):
			ext.UserAgent = strings.TrimSpace(line[len("user-agent:"):])
		}
	}
	return ext
}
