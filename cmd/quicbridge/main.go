// Command quicbridge runs the bridge as an echo server or a ping client.
package main

import "os"

func main() {
    os.Exit(execute(os.Args[1:]))
}
