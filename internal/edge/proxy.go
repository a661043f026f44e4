package edge

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
)

// Forward proxies the validated+decorated request to the upstream
// service, completing the state machine's final step. fiber's proxy
// middleware reuses the same fasthttp client pool as the rest of the
// reactor, keeping the whole request path non-blocking.
func (g *Gateway) Forward() fiber.Handler {
	target := g.upstream.String()
	return func(c *fiber.Ctx) error {
		return proxy.Do(c, target+c.OriginalURL())
	}
}
