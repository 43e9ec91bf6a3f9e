// Package lan helps other devices on the local network find the server: the
// LAN address, an mDNS advertisement and QR codes of the URL.
package lan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/jackpal/gateway"
	"github.com/mdp/qrterminal/v3"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"copycat/internal/logging"
)

const (
	serviceType   = "_http._tcp"
	serviceDomain = "local."
	qrSize        = 256
)

// LocalIP returns the address of the interface facing the default gateway,
// else the first private IPv4 address found.
func LocalIP() (net.IP, error) {
	if ip, err := gateway.DiscoverInterface(); err == nil && ip != nil && !ip.IsLoopback() {
		return ip, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := firstPrivateIPv4(addrs); ip != nil {
			return ip, nil
		}
	}
	return nil, errors.New("no LAN address found")
}

func firstPrivateIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil && ip4.IsPrivate() {
			return ip4
		}
	}
	return nil
}

// URL builds the address other devices should open, given the listen
// address (":5000", "0.0.0.0:5000", "192.168.1.4:5000").
func URL(listenAddr string) (string, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("parse listen address: %w", err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		ip, err := LocalIP()
		if err != nil {
			return "", err
		}
		host = ip.String()
	}
	return "http://" + net.JoinHostPort(host, port) + "/", nil
}

// Advertise registers the service over mDNS until ctx is done.
func Advertise(ctx context.Context, instance, listenAddr, version string) error {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return fmt.Errorf("parse listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse port: %w", err)
	}

	txt := []string{"path=/", "version=" + version}
	server, err := zeroconf.Register(instance, serviceType, serviceDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	logging.Info("mdns_registered",
		zap.String("instance", instance),
		zap.String("service", serviceType),
		zap.Int("port", port),
	)

	go func() {
		<-ctx.Done()
		server.Shutdown()
		logging.Info("mdns_shutdown", zap.String("instance", instance))
	}()
	return nil
}

// PrintQR renders url as a terminal QR code.
func PrintQR(w io.Writer, url string) {
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         w,
		HalfBlocks:     true,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
		QuietZone:      1,
	})
}

// QRPNG encodes url as a PNG QR code.
func QRPNG(url string) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, qrSize)
}
