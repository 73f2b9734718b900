package sim

import (
	"log/slog"

	"qbatch/internal/pkg/sysinfo"
	"qbatch/pkg/backend"
	"qbatch/pkg/controller"

	"github.com/gin-gonic/gin"
)

type Router struct {
	backends *backend.Registry
	ctrls    map[string]*controller.Controller
	probe    *sysinfo.Probe
	logger   *slog.Logger
}

// NewRouter 为每个已注册后端构建一个 Controller, 共享同一资源探测器与
// 服务级默认配置(含分布式几何).
func NewRouter(reg *backend.Registry, probe *sysinfo.Probe, defaults controller.Config, logger *slog.Logger) *Router {
	rt := &Router{
		backends: reg,
		ctrls:    make(map[string]*controller.Controller),
		probe:    probe,
		logger:   logger,
	}
	for _, name := range reg.Names() {
		b, _ := reg.Get(name)
		rt.ctrls[name] = controller.New(b,
			controller.WithProbe(probe),
			controller.WithLogger(logger),
			controller.WithDefaults(defaults),
		)
	}
	return rt
}

func (rt *Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1/")
	{
		g := v1.Group("/sim")
		g.POST("/batch", rt.HandlerExecuteBatch)  // POST /api/v1/sim/batch
		g.GET("/backends", rt.HandlerGetBackends) // GET /api/v1/sim/backends
		g.GET("/sysinfo", rt.HandlerGetSysinfo)   // GET /api/v1/sim/sysinfo
	}
}
