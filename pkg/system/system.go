// Package system describes the local host: the address peers should use to
// reach this process, the platform and the process id.
package system

import (
	"net"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const loopback = "127.0.0.1"

// Info is captured once at startup.
type Info struct {
	Location string
	Arch     string
	Platform string
	PID      int
}

// Detect fills Info. A non-empty override wins over interface discovery.
func Detect(override string) *Info {
	info := &Info{
		Location: override,
		Arch:     runtime.GOARCH,
		Platform: runtime.GOOS,
		PID:      os.Getpid(),
	}
	if info.Location == "" {
		info.Location = localIPv4(net.Interfaces)
	}
	zap.L().Debug("system info",
		zap.String("location", info.Location),
		zap.String("arch", info.Arch),
		zap.String("platform", info.Platform),
		zap.Int("pid", info.PID))
	return info
}

type addrSource interface {
	Addrs() ([]net.Addr, error)
}

// localIPv4 returns the first IPv4 address of an up, non-loopback interface,
// or 127.0.0.1.
func localIPv4(list func() ([]net.Interface, error)) string {
	ifaces, err := list()
	if err != nil {
		zap.L().Warn("list interfaces", zap.Error(err))
		return loopback
	}
	for i := range ifaces {
		ifc := ifaces[i]
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ip := firstIPv4(&ifc); ip != "" {
			return ip
		}
	}
	return loopback
}

func firstIPv4(src addrSource) string {
	addrs, err := src.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String()
		}
	}
	return ""
}
