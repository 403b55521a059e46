package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Delta  int
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	initial := flag.Int("initial", 100, "initial stock of the test product")
	nReqs := flag.Int("n", 400, "number of stock adjustments")
	concurrency := flag.Int("c", 50, "max concurrency")
	incr := flag.Int("incr", 2, "quantity of each add-to-stock call")
	decr := flag.Int("decr", 3, "quantity of each decrement-stock call")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	// 1) 新建一个测试商品
	id, err := createProduct(client, *baseURL, *initial)
	if err != nil {
		fmt.Println("create product failed:", err)
		os.Exit(1)
	}
	fmt.Printf("created product id=%d stock=%d\n", id, *initial)

	// 2) 并发加减库存：偶数请求加，奇数请求减
	fmt.Printf("start stock test: requests=%d concurrency=%d +%d/-%d\n", *nReqs, *concurrency, *incr, *decr)
	results := runAdjust(client, *baseURL, id, *nReqs, *concurrency, *incr, *decr)
	printSummary("stock", results)

	// 3) 校验：最终库存 = 初始库存 + 成功请求的 delta 之和，且不为负
	expected := *initial
	for _, r := range results {
		if r.Err == nil && r.Status == http.StatusOK {
			expected += r.Delta
		}
	}
	final, err := getStock(client, *baseURL, id)
	if err != nil {
		fmt.Println("stock check err:", err)
		os.Exit(1)
	}
	fmt.Printf("final stock=%d expected=%d\n", final, expected)
	if final != expected || final < 0 {
		fmt.Println("FAIL: lost update or negative stock detected")
		os.Exit(1)
	}
	fmt.Println("OK: no lost updates")
}

func runAdjust(client *http.Client, baseURL string, productID, total, concurrency, incr, decr int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			if idx%2 == 0 {
				results[idx] = adjustOnce(client, fmt.Sprintf("%s/api/products/add-to-stock/%d/%d", baseURL, productID, incr), incr)
			} else {
				results[idx] = adjustOnce(client, fmt.Sprintf("%s/api/products/decrement-stock/%d/%d", baseURL, productID, decr), -decr)
			}
		}(i)
	}

	wg.Wait()
	return results
}

func adjustOnce(client *http.Client, url string, delta int) Result {
	req, _ := http.NewRequest(http.MethodPut, url, nil)
	resp, err := client.Do(req)
	if err != nil {
		return Result{Delta: delta, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Delta: delta, Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doPOST 发送 POST 请求并返回响应体。
func doPOST(client *http.Client, url string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return b, nil
}

func createProduct(client *http.Client, baseURL string, stock int) (int, error) {
	b, err := doPOST(client, baseURL+"/api/products", map[string]any{
		"name":            fmt.Sprintf("loadtest-%d", time.Now().UnixNano()),
		"description":     "created by loadtest",
		"price":           "9.99",
		"category":        "Test",
		"brand":           "Loadtest",
		"stock_available": stock,
	})
	if err != nil {
		return 0, err
	}
	var out struct {
		Data struct {
			ID int `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.ID, nil
}

// getStock 查询商品当前库存，用于压测后校验是否丢失更新。
func getStock(client *http.Client, baseURL string, productID int) (int, error) {
	url := fmt.Sprintf("%s/api/products/%d", baseURL, productID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Stock int `json:"stock_available"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Stock, nil
}
