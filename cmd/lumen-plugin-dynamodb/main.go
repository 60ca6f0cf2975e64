// Command lumen-plugin-dynamodb is the out-of-process native extension
// behind the table_* natives. It speaks the line-delimited JSON
// protocol defined by internal/plugin over stdin/stdout and holds the
// actual aws-sdk-go-v2 DynamoDB client, so the dynamodb dependency
// stays out of the main lumen binary.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
)

type Request struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

var (
	clients     = make(map[string]*dynamodb.Client)
	clientsLock sync.Mutex
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(Response{Error: fmt.Sprintf("parse error: %v", err)})
			continue
		}

		result, err := handle(req)
		resp := Response{Result: result}
		if err != nil {
			resp.Error = err.Error()
		}
		if err := encoder.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "lumen-plugin-dynamodb: encode response: %v\n", err)
		}
	}
}

// handle dispatches on the table_* verb surface lumen's natives use.
// update_item and query are deliberately unsupported here: nothing in
// the native registry builds an update expression or a key condition,
// so there is no call path that would ever reach them.
func handle(req Request) (interface{}, error) {
	switch req.Method {
	case "connect":
		return handleConnect(req.Params)
	case "put_item":
		return handlePutItem(req.Params)
	case "get_item":
		return handleGetItem(req.Params)
	case "delete_item":
		return handleDeleteItem(req.Params)
	case "scan":
		return handleScan(req.Params)
	default:
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}

func handleConnect(params []interface{}) (interface{}, error) {
	region := "us-east-1"
	if len(params) >= 1 {
		if opts, ok := params[0].(map[string]interface{}); ok {
			if r, ok := opts["region"].(string); ok && r != "" {
				region = r
			}
		}
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg)
	id := uuid.New().String()

	clientsLock.Lock()
	clients[id] = client
	clientsLock.Unlock()

	return id, nil
}

func handlePutItem(params []interface{}) (interface{}, error) {
	if len(params) < 3 {
		return nil, fmt.Errorf("expected client_id, table, item")
	}
	clientID, _ := params[0].(string)
	table, _ := params[1].(string)
	item, ok := params[2].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("item must be a map")
	}

	client, err := lookupClient(clientID)
	if err != nil {
		return nil, err
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}

	_, err = client.PutItem(context.TODO(), &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	if err != nil {
		return nil, err
	}
	return true, nil
}

func handleGetItem(params []interface{}) (interface{}, error) {
	if len(params) < 3 {
		return nil, fmt.Errorf("expected client_id, table, key")
	}
	clientID, _ := params[0].(string)
	table, _ := params[1].(string)
	key, ok := params[2].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("key must be a map")
	}

	client, err := lookupClient(clientID)
	if err != nil {
		return nil, err
	}

	avKey, err := attributevalue.MarshalMap(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	out, err := client.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       avKey,
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	var result map[string]interface{}
	if err := attributevalue.UnmarshalMap(out.Item, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, nil
}

func handleDeleteItem(params []interface{}) (interface{}, error) {
	if len(params) < 3 {
		return nil, fmt.Errorf("expected client_id, table, key")
	}
	clientID, _ := params[0].(string)
	table, _ := params[1].(string)
	key, ok := params[2].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("key must be a map")
	}

	client, err := lookupClient(clientID)
	if err != nil {
		return nil, err
	}

	avKey, err := attributevalue.MarshalMap(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	_, err = client.DeleteItem(context.TODO(), &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       avKey,
	})
	if err != nil {
		return nil, err
	}
	return true, nil
}

func handleScan(params []interface{}) (interface{}, error) {
	if len(params) < 2 {
		return nil, fmt.Errorf("expected client_id, table")
	}
	clientID, _ := params[0].(string)
	table, _ := params[1].(string)

	client, err := lookupClient(clientID)
	if err != nil {
		return nil, err
	}

	out, err := client.Scan(context.TODO(), &dynamodb.ScanInput{TableName: aws.String(table)})
	if err != nil {
		return nil, err
	}

	var items []map[string]interface{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	return items, nil
}

func lookupClient(id string) (*dynamodb.Client, error) {
	clientsLock.Lock()
	defer clientsLock.Unlock()
	client, ok := clients[id]
	if !ok {
		return nil, fmt.Errorf("no dynamodb client for id %q; call table_connect first", id)
	}
	return client, nil
}
