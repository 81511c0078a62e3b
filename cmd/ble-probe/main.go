// Command ble-probe is a manual tool for finding a BLE thermal printer.
// Without -address it lists nearby peripherals. With -address it connects
// and lists the characteristics a ticket could be written to, and with
// -print it also sends a short test ticket.
//
// Usage:
//
//	go run ./cmd/ble-probe [-timeout 8s]
//	go run ./cmd/ble-probe -address AA:BB:CC:DD:EE:FF [-print "hello"]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/ticketprint/internal/ble"
	"github.com/chaz8081/ticketprint/internal/config"
	"github.com/chaz8081/ticketprint/internal/escpos"
	"github.com/chaz8081/ticketprint/internal/printer"
)

func main() {
	address := flag.String("address", "", "printer address (default: BLE_PRINTER_ADDR)")
	timeout := flag.Duration("timeout", 8*time.Second, "scan timeout")
	text := flag.String("print", "", "send this text as a test print")
	verbose := flag.Bool("v", false, "log transport steps")
	flag.Parse()

	_ = config.LoadDotEnv(".env")
	cfg := config.Default()
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if *address == "" {
		*address = cfg.BLE.Address
	}

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	var inspector ble.FlagInspector
	if bluez, err := ble.NewBlueZInspector(); err == nil {
		inspector = bluez
	} else {
		fmt.Printf("BlueZ D-Bus unavailable (%v); properties will be unknown\n", err)
	}
	adapter := ble.NewTinyGoAdapter(inspector, log.Named("ble"))

	if *address == "" {
		if err := listDevices(adapter, *timeout); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	opts := printer.BLEOptions(cfg.BLE)
	opts.ScanTimeout = *timeout

	if err := listCharacteristics(adapter, *address, opts); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if *text == "" {
		return
	}
	fmt.Printf("\nSending test print to %s...\n", *address)
	transport := ble.NewTransport(adapter, opts, log.Named("ble"))
	payload := escpos.Frame(*text+"\n", nil)
	if err := transport.Send(context.Background(), *address, payload, ble.PayloadText); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done!")
}

func listDevices(adapter ble.Adapter, timeout time.Duration) error {
	fmt.Printf("Scanning for %s...\n", timeout)
	devices, err := ble.ScanDevices(adapter, timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return nil
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s  %4d dBm  %s\n", d.Address, d.RSSI, name)
	}
	fmt.Println("\nRun again with -address to inspect a printer.")
	return nil
}

func listCharacteristics(adapter ble.Adapter, address string, opts ble.Options) error {
	fmt.Printf("Connecting to %s...\n", address)
	ctx, cancel := context.WithTimeout(context.Background(), opts.ScanTimeout+opts.ConnectTimeout)
	defer cancel()

	chars, err := ble.WritableCharacteristics(ctx, adapter, address, opts)
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		fmt.Println("No writable characteristics found.")
		return nil
	}
	fmt.Println("Writable characteristics:")
	for _, c := range chars {
		fmt.Printf("  %s  %s\n", c.UUID, c.Properties)
	}
	if opts.WriteCharUUID == "" {
		fmt.Printf("\nSet BLE_WRITE_UUID to pin one (default guess: %s).\n", chars[0].UUID)
	}
	return nil
}
