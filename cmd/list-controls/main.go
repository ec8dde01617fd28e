// Command list-controls prints the V4L2 controls of a device. The ids it
// shows are the values to use for property_<i>_code.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/goccy/go-json"
	dev "github.com/vladimirvivien/go4vl/device"

	"cv-capture/pkg/camera"
)

func main() {
	devName := "0"
	asText := false
	flag.StringVar(&devName, "d", devName, "device index or path")
	flag.BoolVar(&asText, "text", asText, "print one line per control instead of json")
	flag.Parse()

	device, err := dev.Open(camera.DevicePath(devName))
	if err != nil {
		log.Fatalf("failed to open device: %s", err)
	}
	defer device.Close()

	controls, err := camera.ListControls(device.Fd())
	if err != nil {
		log.Fatal(err)
	}

	if asText {
		for _, c := range controls {
			fmt.Println(c)
			for i, item := range c.MenuItems {
				fmt.Printf("\t(%d) Menu %s\n", i, item)
			}
		}
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(controls); err != nil {
		log.Fatal(err)
	}
}
