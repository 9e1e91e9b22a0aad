package hcloud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/migrahosting-alt/mpanel-sub000/internal/config"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
)

// Adapter implements provisioning.Hypervisor against the Hetzner Cloud
// API. Calls are rate limited and guarded by a circuit breaker so a
// flapping hypervisor fails fast instead of tying up workers.
type Adapter struct {
	client  *hcloud.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	image   string
}

func NewAdapter(cfg *config.Config) *Adapter {
	settings := gobreaker.Settings{
		Name:    "hypervisor",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures >= 5
		},
	}
	return &Adapter{
		client:  hcloud.NewClient(hcloud.WithToken(cfg.HCloudToken)),
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.HCloudRequestsPerMinute)/60, 5),
		image:   cfg.HCloudImage,
	}
}

func (a *Adapter) CreateServer(ctx context.Context, req provisioning.ServerRequest) (string, error) {
	var externalRef string
	err := a.guarded(ctx, func() error {
		serverType, _, err := a.client.ServerType.Get(ctx, req.ServerType)
		if err != nil {
			return fmt.Errorf("get server type: %w", err)
		}
		if serverType == nil {
			return fmt.Errorf("server type not found: %s", req.ServerType)
		}

		image := req.Image
		if image == "" {
			image = a.image
		}
		imageObj, _, err := a.client.Image.Get(ctx, image)
		if err != nil {
			return fmt.Errorf("get image: %w", err)
		}
		if imageObj == nil {
			return fmt.Errorf("image not found: %s", image)
		}

		location, _, err := a.client.Location.Get(ctx, req.Location)
		if err != nil {
			return fmt.Errorf("get location: %w", err)
		}
		if location == nil {
			return fmt.Errorf("location not found: %s", req.Location)
		}

		result, _, err := a.client.Server.Create(ctx, hcloud.ServerCreateOpts{
			Name:       req.Name,
			ServerType: serverType,
			Image:      imageObj,
			Location:   location,
			Labels:     req.Labels,
		})
		if err != nil {
			return fmt.Errorf("create server: %w", err)
		}
		if err := a.client.Action.WaitFor(ctx, result.Action); err != nil {
			return fmt.Errorf("wait for server creation: %w", err)
		}

		externalRef = strconv.FormatInt(result.Server.ID, 10)
		return nil
	})
	if err != nil {
		return "", provisioning.Transient("compute", err)
	}
	return externalRef, nil
}

func (a *Adapter) FindServer(ctx context.Context, name string) (string, error) {
	var externalRef string
	err := a.guarded(ctx, func() error {
		server, _, err := a.client.Server.GetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("get server by name: %w", err)
		}
		if server != nil {
			externalRef = strconv.FormatInt(server.ID, 10)
		}
		return nil
	})
	if err != nil {
		return "", provisioning.Transient("compute", err)
	}
	return externalRef, nil
}

func (a *Adapter) DeleteServer(ctx context.Context, externalRef string) error {
	return a.serverOp(ctx, externalRef, "delete server", func(server *hcloud.Server) error {
		_, _, err := a.client.Server.DeleteWithResult(ctx, server)
		return err
	})
}

func (a *Adapter) PowerOff(ctx context.Context, externalRef string) error {
	return a.serverOp(ctx, externalRef, "power off", func(server *hcloud.Server) error {
		action, _, err := a.client.Server.Poweroff(ctx, server)
		if err != nil {
			return err
		}
		return a.client.Action.WaitFor(ctx, action)
	})
}

func (a *Adapter) PowerOn(ctx context.Context, externalRef string) error {
	return a.serverOp(ctx, externalRef, "power on", func(server *hcloud.Server) error {
		action, _, err := a.client.Server.Poweron(ctx, server)
		if err != nil {
			return err
		}
		return a.client.Action.WaitFor(ctx, action)
	})
}

func (a *Adapter) ResizeServer(ctx context.Context, externalRef, serverType string) error {
	return a.serverOp(ctx, externalRef, "resize", func(server *hcloud.Server) error {
		target, _, err := a.client.ServerType.Get(ctx, serverType)
		if err != nil {
			return fmt.Errorf("get server type: %w", err)
		}
		if target == nil {
			return fmt.Errorf("server type not found: %s", serverType)
		}
		action, _, err := a.client.Server.ChangeType(ctx, server, hcloud.ServerChangeTypeOpts{
			ServerType:  target,
			UpgradeDisk: false,
		})
		if err != nil {
			return err
		}
		return a.client.Action.WaitFor(ctx, action)
	})
}

func (a *Adapter) serverOp(ctx context.Context, externalRef, op string, fn func(*hcloud.Server) error) error {
	err := a.guarded(ctx, func() error {
		id, err := strconv.ParseInt(externalRef, 10, 64)
		if err != nil {
			return fmt.Errorf("malformed server ref %q: %w", externalRef, err)
		}
		server, _, err := a.client.Server.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("get server: %w", err)
		}
		if server == nil {
			return fmt.Errorf("server not found: %s", externalRef)
		}
		if err := fn(server); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return provisioning.Transient("compute", err)
	}
	return nil
}

func (a *Adapter) guarded(ctx context.Context, fn func() error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}
