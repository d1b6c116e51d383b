package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	confirmStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// askYesNo renders a confirmation request and reads a y/N answer from
// stdin. Anything other than an explicit yes is a denial.
func askYesNo(in *bufio.Reader, message string) (bool, error) {
	fmt.Println(confirmStyle.Render(message))
	fmt.Print(confirmStyle.Render("Allow? [y/N] "))

	line, err := in.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
}
