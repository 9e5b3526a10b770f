// Governor - Compliance Policy & Remediation Engine
// Classify. Remediate. Record.
package main

func main() {
	Execute()
}
