package approval

// DefaultCommandPatterns are substrings that mark a shell command as risky.
// Matching is case-insensitive on whitespace-normalized commands.
var DefaultCommandPatterns = []string{
	"rm -rf",
	"rm -fr",
	"sudo ",
	"mkfs",
	"dd if=",
	"chmod -r 777",
	"chmod 777",
	"chown -r",
	"git push --force",
	"git push -f",
	"git reset --hard",
	"git clean -fd",
	"> /dev/sd",
	"| sh",
	"| bash",
	"shutdown",
	"reboot",
	":(){",
	"kubectl delete",
	"terraform destroy",
	"drop table",
	"drop database",
}

// DefaultPathPatterns are glob patterns for files that should not be
// written without confirmation.
var DefaultPathPatterns = []string{
	"**/.ssh/**",
	"**/.git/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/migrations/**",
	"**/.github/workflows/**",
}

// DefaultFileTypes are extensions that mark a file as sensitive.
var DefaultFileTypes = []string{
	".env",
	".pem",
	".key",
	".p12",
	".pfx",
	".jks",
	".keystore",
	".crt",
}
