package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"calibervault/crypto"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("VAULT_RPC_TOKEN")

const keystorePassEnv = "VAULT_KEYSTORE_PASS"

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "keystore-export":
		if len(args) < 3 {
			fmt.Println("Error: Please provide a key file and a destination path.")
			printUsage()
			return
		}
		keystoreExport(args[1], args[2])
	case "keystore-import":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a keystore file.")
			printUsage()
			return
		}
		keystoreImport(args[1])
	case "init-vault":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an admin address.")
			printUsage()
			return
		}
		initVault(args[1], args[2:])
	case "add-operator":
		if len(args) < 3 {
			fmt.Println("Error: Please provide the caller and operator addresses.")
			printUsage()
			return
		}
		operatorChange("custody_addOperator", args[1], args[2])
	case "remove-operator":
		if len(args) < 3 {
			fmt.Println("Error: Please provide the caller and operator addresses.")
			printUsage()
			return
		}
		operatorChange("custody_removeOperator", args[1], args[2])
	case "deposit":
		if len(args) < 4 {
			fmt.Println("Error: Please provide a user address, salt and amount.")
			printUsage()
			return
		}
		salt, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid salt.")
			return
		}
		asset := ""
		if len(args) > 4 {
			asset = args[4]
		}
		var allowed []string
		if len(args) > 5 {
			allowed = args[5:]
		}
		deposit(args[1], salt, args[3], asset, allowed)
	case "transfer":
		if len(args) < 5 {
			fmt.Println("Error: Please provide the operator, deposit id, receiver and amount.")
			printUsage()
			return
		}
		asset := ""
		if len(args) > 5 {
			asset = args[5]
		}
		operatorTransfer(args[1], args[2], args[3], args[4], asset)
	case "withdraw":
		if len(args) < 3 {
			fmt.Println("Error: Please provide the user address and deposit id.")
			printUsage()
			return
		}
		withdraw(args[1], args[2])
	case "get-vault":
		call("custody_getVault", nil, false)
	case "get-deposit":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a deposit id.")
			printUsage()
			return
		}
		call("custody_getDeposit", map[string]interface{}{"depositId": args[1]}, false)
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		params := map[string]interface{}{"address": args[1]}
		if len(args) > 2 {
			params["asset"] = args[2]
		}
		call("custody_getBalance", params, false)
	case "fund":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and amount.")
			printUsage()
			return
		}
		params := map[string]interface{}{"address": args[1], "amount": args[2]}
		if len(args) > 3 {
			params["asset"] = args[3]
		}
		call("custody_fund", params, true)
	default:
		fmt.Printf("Unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
}

func initVault(admin string, operators []string) {
	params := map[string]interface{}{"admin": admin}
	if len(operators) > 0 {
		params["operators"] = operators
	}
	call("custody_initializeVault", params, true)
}

func operatorChange(method, caller, operator string) {
	call(method, map[string]interface{}{"caller": caller, "operator": operator}, true)
}

func deposit(user string, salt uint64, amount, asset string, allowed []string) {
	params := map[string]interface{}{"user": user, "salt": salt, "amount": amount}
	if asset != "" {
		params["asset"] = asset
	}
	if len(allowed) > 0 {
		params["allowedList"] = allowed
	}
	call("custody_deposit", params, true)
}

func operatorTransfer(operator, depositID, receiver, amount, asset string) {
	params := map[string]interface{}{
		"operator":  operator,
		"depositId": depositID,
		"receiver":  receiver,
		"amount":    amount,
	}
	if asset != "" {
		params["asset"] = asset
	}
	call("custody_operatorTransfer", params, true)
}

func withdraw(user, depositID string) {
	call("custody_userWithdraw", map[string]interface{}{"user": user, "depositId": depositID}, true)
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely.")
}

func keystoreExport(keyFile, dest string) {
	pass := os.Getenv(keystorePassEnv)
	if pass == "" {
		fmt.Printf("Error: %s must be set to encrypt the keystore.\n", keystorePassEnv)
		os.Exit(1)
	}
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		fmt.Printf("Error reading key file: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		fmt.Printf("Error parsing key file: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(dest, key, pass); err != nil {
		fmt.Printf("Error writing keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %s to keystore %s\n", key.PubKey().Address().String(), dest)
}

func keystoreImport(path string) {
	pass := os.Getenv(keystorePassEnv)
	if pass == "" {
		fmt.Printf("Error: %s must be set to decrypt the keystore.\n", keystorePassEnv)
		os.Exit(1)
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		fmt.Printf("Error decrypting keystore: %v\n", err)
		os.Exit(1)
	}
	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		fmt.Printf("Error saving key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %s and saved to %s\n", key.PubKey().Address().String(), fileName)
}

func call(method string, params map[string]interface{}, requireAuth bool) {
	result, err := sendRPCRequest(method, params, requireAuth)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(pretty))
}

func sendRPCRequest(method string, params map[string]interface{}, requireAuth bool) (json.RawMessage, error) {
	paramList := []interface{}{}
	if params != nil {
		paramList = append(paramList, params)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  paramList,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := doRPCRequest(payload, requireAuth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int         `json:"code"`
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Data != nil {
			return nil, fmt.Errorf("error from node: %s (%v)", rpcResp.Error.Message, rpcResp.Error.Data)
		}
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires VAULT_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func printUsage() {
	fmt.Println("Usage: vault-cli [--rpc <endpoint>] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key                                              Generate a new key pair")
	fmt.Println("  keystore-export <keyfile> <dest>                          Encrypt a key into a v3 keystore file")
	fmt.Println("  keystore-import <keystore>                                Decrypt a keystore into wallet.key")
	fmt.Println("  init-vault <admin> [operator...]                          Initialize the vault registry")
	fmt.Println("  add-operator <caller> <operator>                          Register an operator")
	fmt.Println("  remove-operator <caller> <operator>                       Revoke an operator")
	fmt.Println("  deposit <user> <salt> <amount> [asset] [receiver...]      Escrow funds")
	fmt.Println("  transfer <operator> <depositId> <receiver> <amount> [asset]")
	fmt.Println("  withdraw <user> <depositId>                               Release remaining funds")
	fmt.Println("  get-vault                                                 Show the vault registry")
	fmt.Println("  get-deposit <depositId>                                   Show a deposit record")
	fmt.Println("  balance <address> [asset]                                 Show a balance")
	fmt.Println("  fund <address> <amount> [asset]                           Credit a balance (dev only)")
}
