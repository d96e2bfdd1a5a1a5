// Package main is routesync's entry point.
package main

import "routesync/internal/routesynccmd"

func main() {
	routesynccmd.Main()
}
