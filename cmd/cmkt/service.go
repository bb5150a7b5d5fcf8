package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:     "service",
	Aliases: []string{"svc"},
	Short:   "Manage registered services",
}

var serviceRegisterCmd = &cobra.Command{
	Use:   "register [service-id] [price]",
	Short: "Register or replace a service (authority only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runServiceRegister,
}

var servicePriceCmd = &cobra.Command{
	Use:   "price [service-id] [price]",
	Short: "Change the price of a service (authority only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runServicePrice,
}

var serviceDeactivateCmd = &cobra.Command{
	Use:   "deactivate [service-id]",
	Short: "Stop new purchases of a service (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runServiceDeactivate,
}

var serviceShowCmd = &cobra.Command{
	Use:   "show [service-id]",
	Short: "Show a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runServiceShow,
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List services",
	RunE:  runServiceList,
}

var serviceActiveOnly bool

func init() {
	serviceCmd.AddCommand(serviceRegisterCmd, servicePriceCmd, serviceDeactivateCmd, serviceShowCmd, serviceListCmd)

	serviceListCmd.Flags().BoolVar(&serviceActiveOnly, "active", false, "Only list active services")
}

func runServiceRegister(cmd *cobra.Command, args []string) error {
	id, err := parseID("service", args[0])
	if err != nil {
		return err
	}
	resp, err := apiPost("/services", map[string]interface{}{
		"service_id": id,
		"price":      args[1],
	})
	if err != nil {
		return err
	}

	var svc models.Service
	if err := json.Unmarshal(resp, &svc); err != nil {
		return err
	}
	fmt.Printf("Registered service %d at price %s\n", svc.ServiceID, svc.Price)
	return nil
}

func runServicePrice(cmd *cobra.Command, args []string) error {
	id, err := parseID("service", args[0])
	if err != nil {
		return err
	}
	resp, err := apiPost(servicePath(id, "/price"), map[string]string{"price": args[1]})
	if err != nil {
		return err
	}

	var svc models.Service
	if err := json.Unmarshal(resp, &svc); err != nil {
		return err
	}
	fmt.Printf("Service %d now costs %s\n", svc.ServiceID, svc.Price)
	return nil
}

func runServiceDeactivate(cmd *cobra.Command, args []string) error {
	id, err := parseID("service", args[0])
	if err != nil {
		return err
	}
	if _, err := apiPost(servicePath(id, "/deactivate"), nil); err != nil {
		return err
	}
	fmt.Printf("Deactivated service %d\n", id)
	return nil
}

func runServiceShow(cmd *cobra.Command, args []string) error {
	id, err := parseID("service", args[0])
	if err != nil {
		return err
	}
	resp, err := apiGet(servicePath(id, ""))
	if err != nil {
		return err
	}

	var svc models.Service
	if err := json.Unmarshal(resp, &svc); err != nil {
		return err
	}
	if svc.CreatedAt == nil {
		fmt.Printf("Service %d is not registered\n", id)
		return nil
	}

	fmt.Printf("ID:         %d\n", svc.ServiceID)
	fmt.Printf("Price:      %s\n", svc.Price)
	fmt.Printf("Active:     %t\n", svc.Active)
	if svc.Registrant != "" {
		fmt.Printf("Registrant: %s\n", svc.Registrant)
	}
	fmt.Printf("Created:    %s\n", svc.CreatedAt.Local().Format(timeLayout))
	if svc.UpdatedAt != nil {
		fmt.Printf("Updated:    %s\n", svc.UpdatedAt.Local().Format(timeLayout))
	}
	return nil
}

func runServiceList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/services")
	if err != nil {
		return err
	}

	var services []models.Service
	if err := json.Unmarshal(resp, &services); err != nil {
		return err
	}

	if len(services) == 0 {
		fmt.Println("No services found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRICE\tACTIVE")
	for _, svc := range services {
		if serviceActiveOnly && !svc.Active {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%t\n", svc.ServiceID, svc.Price, svc.Active)
	}
	return w.Flush()
}

func servicePath(id uint64, action string) string {
	return "/services/" + strconv.FormatUint(id, 10) + action
}
