package printer

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/chaz8081/ticketprint/internal/config"
)

const (
	networkDialTimeout  = 5 * time.Second
	networkWriteTimeout = 10 * time.Second

	defaultSysfsRoot = "/sys"
	defaultUSBLPPath = "/dev/usb/lp0"
	usbLPGlob        = "class/usbmisc/lp*"
)

// Opener opens a fresh connection to a vendor printer for one job.
type Opener func(ctx context.Context) (io.WriteCloser, error)

// NewOpener returns the device opener for a non-BLE kind, and nil for BLE.
func NewOpener(kind Kind, c config.PrinterConfig) (Opener, error) {
	switch kind {
	case KindUSB:
		return usbOpener(c, defaultSysfsRoot)
	case KindSerial:
		return serialOpener(c.SerialPort, c.SerialBaudRate, ""), nil
	case KindBluetooth:
		hint := fmt.Sprintf("bind it first with: sudo rfcomm bind %s <PRINTER_MAC>", c.RFCOMMDevice)
		return serialOpener(c.RFCOMMDevice, c.RFCOMMBaudRate, hint), nil
	case KindNetwork:
		return networkOpener(net.JoinHostPort(c.NetworkHost, strconv.Itoa(c.NetworkPort))), nil
	case KindBLE:
		return nil, nil
	}
	return nil, fmt.Errorf("printer: unknown printer type %q", kind)
}

// usbOpener writes to the usblp device file of the printer with the
// configured vendor and product IDs.
func usbOpener(c config.PrinterConfig, sysfs string) (Opener, error) {
	if c.USBDevice != "" {
		return fileOpener(c.USBDevice), nil
	}
	vendor, err := config.ParseUSBID(c.USBVendor)
	if err != nil {
		return nil, fmt.Errorf("%w: usb vendor %q: %v", ErrNotConfigured, c.USBVendor, err)
	}
	product, err := config.ParseUSBID(c.USBProduct)
	if err != nil {
		return nil, fmt.Errorf("%w: usb product %q: %v", ErrNotConfigured, c.USBProduct, err)
	}
	return func(ctx context.Context) (io.WriteCloser, error) {
		path, err := findUSBLP(sysfs, vendor, product)
		if err != nil {
			return nil, err
		}
		return fileOpener(path)(ctx)
	}, nil
}

func fileOpener(path string) Opener {
	return func(context.Context) (io.WriteCloser, error) {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("open USB device %s: %w", path, err)
		}
		return f, nil
	}
}

// findUSBLP locates the /dev/usb/lpN node whose USB device matches
// vendor:product by walking sysfs.
func findUSBLP(sysfs string, vendor, product uint16) (string, error) {
	matches, _ := filepath.Glob(filepath.Join(sysfs, usbLPGlob))
	for _, dir := range matches {
		iface, err := filepath.EvalSymlinks(filepath.Join(dir, "device"))
		if err != nil {
			continue
		}
		usbDev := filepath.Dir(iface)
		v, err1 := readHexID(filepath.Join(usbDev, "idVendor"))
		p, err2 := readHexID(filepath.Join(usbDev, "idProduct"))
		if err1 != nil || err2 != nil {
			continue
		}
		if v == vendor && p == product {
			return filepath.Join("/dev/usb", filepath.Base(dir)), nil
		}
	}
	if len(matches) == 0 {
		// No sysfs (or no usblp class); try the conventional node.
		if _, err := os.Stat(defaultUSBLPPath); err == nil {
			return defaultUSBLPPath, nil
		}
	}
	return "", fmt.Errorf("no USB printer %04x:%04x found", vendor, product)
}

func readHexID(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return config.ParseUSBID(strings.TrimSpace(string(data)))
}

func serialOpener(port string, baud int, hint string) Opener {
	return func(context.Context) (io.WriteCloser, error) {
		p, err := serial.Open(port, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			if hint != "" {
				return nil, fmt.Errorf("open serial port %s (%s): %w", port, hint, err)
			}
			return nil, fmt.Errorf("open serial port %s: %w", port, err)
		}
		return p, nil
	}
}

func networkOpener(addr string) Opener {
	return func(ctx context.Context) (io.WriteCloser, error) {
		d := net.Dialer{Timeout: networkDialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(networkWriteTimeout))
		return conn, nil
	}
}
