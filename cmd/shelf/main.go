// shelf 链上图书馆命令行客户端
package main

func main() {
	Execute()
}
