package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmgate/gateway/internal/x402/audit"
)

var (
	auditPath  string
	auditType  string
	auditIP    string
	auditLimit int
)

func init() {
	auditCmd.PersistentFlags().StringVarP(&auditPath, "path", "", "x402_audit.jsonl", "path to the audit log")

	auditTailCmd.Flags().StringVarP(&auditType, "type", "", "", "filter by event type, e.g. payment_received")
	auditTailCmd.Flags().StringVarP(&auditIP, "ip", "", "", "filter by client IP")
	auditTailCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "max events to print")

	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditStatsCmd)
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "inspect the gateway audit log",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "print recent audit events, newest first",
	RunE:  doAuditTail,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "summarise the audit log",
	RunE:  doAuditStats,
}

func doAuditTail(cmd *cobra.Command, args []string) error {
	events, err := audit.Read(auditPath, auditLimit, audit.EventType(auditType), auditIP)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	for _, event := range events {
		if verbose {
			jsonb, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Println(string(jsonb))
			continue
		}
		fmt.Printf("%s\t%s\t%s\t%s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"), event.EventType, event.RequestID, event.ClientIP)
	}

	return nil
}

func doAuditStats(cmd *cobra.Command, args []string) error {
	stats, err := audit.ReadStats(auditPath)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	fmt.Printf("total events: %d\n", stats.TotalEvents)
	if stats.FirstEvent != "" {
		fmt.Printf("first event:  %s\nlast event:   %s\n", stats.FirstEvent, stats.LastEvent)
	}
	for eventType, count := range stats.EventsByType {
		fmt.Printf("  %-20s %d\n", eventType, count)
	}

	return nil
}
