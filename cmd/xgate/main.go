// xGate - payment-gated API proxy
// Register an upstream, share the generated endpoint, get paid per call.
package main

func main() {
	Execute()
}
