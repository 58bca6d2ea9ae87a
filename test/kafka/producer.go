// этот код не зависит от приложения,
// и нужен только для ручной проверки приёма заказов через кафку
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma separated kafka brokers")
	topic := flag.String("topic", "orders", "orders topic")
	orderID := flag.String("order", "test-order-01", "order id")
	flag.Parse()

	// заказ в "старой" форме: camelCase, ссылки на товары объектами, без стоимости доставки
	message := fmt.Sprintf(`{
           "_id": %q,
           "customer": {"_id": "customer-1", "name": "Ivan Ivanov"},
           "createdAt": %q,
           "totalAmount": "1240.00",
           "items": [
             {"product": {"_id": "p-tomato", "name": "Tomatoes", "images": ["tomato.jpg"]}, "quantity": 3, "price": "180.00"},
             {"productId": "p-milk", "productName": "Farm milk", "quantity": 2, "subtotal": "300.00"},
             {"product": "p-honey", "name": "Buckwheat honey", "quantity": 1, "price": "350.00"}
           ]
        }`, *orderID, time.Now().UTC().Format(time.RFC3339))

	// настройки писателя (producer-а)
	writer := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(*brokers, ",")...),
		Topic:    *topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer writer.Close()

	log.Println("Sending message to Kafka...")
	err := writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(*orderID),
			Value: []byte(message),
		},
	)
	if err != nil {
		log.Fatalf("Failed to write message: %v", err)
	}
	fmt.Println("Message sent successfully!")
}
