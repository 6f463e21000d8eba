package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tpanda03/Pulse-RadarProject/internal/rd03"
)

var (
	runSerialPort string
	runBaudRate   int
	runListen     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bridge a radar serial port to TCP clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := rd03.Open(runSerialPort, rd03.PortOptions{BaudRate: runBaudRate})
		if err != nil {
			return err
		}
		defer port.Close()

		ln, err := net.Listen("tcp", runListen)
		if err != nil {
			return err
		}
		defer ln.Close()
		log.Printf("Bridging %s to %s", runSerialPort, ln.Addr())

		b := newBridge()
		go b.serve(ln)

		errs := make(chan error, 1)
		go func() {
			errs <- b.readSerial(port)
		}()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errs:
			return err
		case sig := <-sigs:
			log.Printf("Received %s, shutting down", sig)
			return nil
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runSerialPort, "port", "/dev/ttyUSB0", "Serial port device path")
	runCmd.Flags().IntVar(&runBaudRate, "baud", 256000, "Serial baud rate")
	runCmd.Flags().StringVar(&runListen, "listen", ":9000", "TCP listen address")
}
