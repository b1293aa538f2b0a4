// Command taskpilot runs a tool-using coding agent against a language model.
package main

func main() {
	Execute()
}
