// Package main (cmd/storagectl) is a command line client for the storage
// distribution server.
//
// Example usage:
//
//	storagectl --tenant=2 put report-2024 ./report.pdf
//	storagectl --tenant=2 --offer=disk-2 get report-2024 ./copy.pdf
//	storagectl --tenant=2 copy report-2024 disk-1 disk-2
//	storagectl --tenant=2 --category=unit logs --desc --limit=20
//	storagectl check-referential ./referential.yaml
package main
