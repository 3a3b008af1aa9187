// listenosc prints every OSC message it receives. Point a bridge's replies or a console's
// output at it to see exactly what goes over the wire.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/hypebeast/go-osc/osc"
)

func main() {
	port := flag.Int("port", 0, "UDP port to listen for OSC messages")
	only := flag.String("addr", "*", "only print messages sent to this address, * for all")
	flag.Parse()

	if *port == 0 {
		fmt.Println("Usage: listenosc -port <port> [-addr /error]")
		os.Exit(1)
	}
	addr := "0.0.0.0:" + strconv.Itoa(*port)

	dispatcher := osc.NewStandardDispatcher()
	err := dispatcher.AddMsgHandler(*only, func(msg *osc.Message) {
		tags, err := msg.TypeTags()
		if err != nil {
			tags = "?"
		}
		fmt.Printf("%s %s %s %v\n", time.Now().Format("15:04:05.000"), msg.Address, tags, msg.Arguments)
	})
	if err != nil {
		log.Fatalf("Invalid -addr %q: %v", *only, err)
	}

	server := &osc.Server{
		Addr:       addr,
		Dispatcher: dispatcher,
	}

	fmt.Printf("Listening for OSC messages on %s (UDP)...\n", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Failed to start OSC server: %v", err)
	}
}
