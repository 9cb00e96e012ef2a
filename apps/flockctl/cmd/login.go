package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flockml/flock/pkg/fsdk"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate to the flock coordinator",
	Long: `Exchange a username and password for a session token.

Examples:
	# prompt for credentials
	flockctl login

	# non-interactive
	flockctl login --username admin --password secret

The token is stored in the OS keyring for subsequent commands.`,
	Run: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) {
	cli, err := newClient(cmd)
	if err != nil {
		log.Fatalf("%v", err)
	}

	username := loginUsername
	password := loginPassword
	reader := bufio.NewReader(os.Stdin)
	if username == "" {
		fmt.Print("Username: ")
		line, _ := reader.ReadString('\n')
		username = strings.TrimSpace(line)
	}
	if password == "" {
		fmt.Print("Password: ")
		line, _ := reader.ReadString('\n')
		password = strings.TrimSpace(line)
	}

	resp, err := cli.Login(cmd.Context(), username, password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	if err := fsdk.SaveToken(cli.BaseURL, resp.AccessToken); err != nil {
		log.Printf("warning: failed to save token to keyring: %v", err)
	} else {
		fmt.Println("Access token saved")
	}

	if resp.ShouldChangePassword {
		fmt.Println("⚠ You are using the bootstrap password. Change it with 'flockctl passwd'.")
	}
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Rotate the account password",
	Run: func(cmd *cobra.Command, args []string) {
		cli, err := newClient(cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}

		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Current password: ")
		oldLine, _ := reader.ReadString('\n')
		fmt.Print("New password: ")
		newLine, _ := reader.ReadString('\n')

		err = cli.ChangePassword(cmd.Context(), strings.TrimSpace(oldLine), strings.TrimSpace(newLine))
		exitIfAPIError(err)
		fmt.Println("Password changed")
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Account name")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(passwdCmd)
}
