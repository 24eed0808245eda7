package cordwood_test

import (
	"log"

	"github.com/cordwood/cordwood"
)

// To use cordwood with the standard library's log package, start a channel
// and pass its writer into the SetOutput function when your application
// starts.
func Example() {
	c := &cordwood.Channel{
		Filename:    "/var/log/myapp/foo.log",
		MaxSize:     512, // kilobytes
		MaxBackups:  3,
		Compression: "gzip",
	}
	if err := c.Start(); err != nil {
		log.Fatal(err)
	}
	log.SetOutput(c.Writer(cordwood.LevelInfo))
}
