// Package pprof mounts net/http/pprof on an existing router so profiles sit
// behind the same admin auth as the rest of the operator endpoints.
package pprof

import (
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

type Config struct {
	Enabled bool
	Prefix  string

	MutexProfileFraction int
	BlockProfileRate     int
}

// ApplyRuntimeRates sets the mutex and block profile rates. 0 keeps the Go default.
func ApplyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Register adds the pprof handlers under cfg.Prefix on r.
func Register(r gin.IRouter, cfg Config) {
	prefix := NormalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")

	r.GET(base+"/cmdline", gin.WrapF(hpprof.Cmdline))
	r.GET(base+"/profile", gin.WrapF(hpprof.Profile))
	r.GET(base+"/symbol", gin.WrapF(hpprof.Symbol))
	r.POST(base+"/symbol", gin.WrapF(hpprof.Symbol))
	r.GET(base+"/trace", gin.WrapF(hpprof.Trace))
	// index plus named profiles (heap, goroutine, mutex, ...)
	r.GET(base+"/:name", index)
	r.GET(prefix, index)
}

func NormalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// hpprof.Index only understands paths rooted at /debug/pprof/.
func index(c *gin.Context) {
	r := c.Request.Clone(c.Request.Context())
	r.URL.Path = "/debug/pprof/" + c.Param("name")
	hpprof.Index(c.Writer, r)
}
