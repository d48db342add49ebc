// Command crc runs and queries a CRC-32C checksum service speaking
// segment-framed Cap'n Proto messages over TCP.
//
//	crc server --address 127.0.0.1:8989 --metrics-address :9090
//	echo -n hello | crc checksum --address 127.0.0.1:8989
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
